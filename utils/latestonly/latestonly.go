/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package latestonly implements a pipe that never makes its producer wait for
// a slow consumer.  When the consumer falls behind, older values which have
// not yet been delivered are replaced by newer ones, so the consumer always
// observes values in the order they were sent but may skip intermediate ones.
package latestonly

import "sync"

type Channel[T any] struct {
	inputCh  chan T
	outputCh chan T
	stopCh   chan struct{}
	doneCh   chan struct{}

	closeOnce sync.Once
	abortOnce sync.Once
}

// New creates a Channel and starts the goroutine which pumps values from the
// producer to the consumer.  Abort always releases the goroutine.  Close only
// releases it once the consumer has read the pending value, so a consumer
// which may stop reading must Abort as well.
func New[T any]() *Channel[T] {
	c := &Channel[T]{
		inputCh:  make(chan T),
		outputCh: make(chan T),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go c.pump()

	return c
}

// Send hands a value to the pump.  The pump is always ready to receive, so
// this only waits for the pump goroutine to be scheduled.  Send must not be
// called after Close, but may race with Abort, in which case it is dropped.
func (c *Channel[T]) Send(v T) {
	select {
	case c.inputCh <- v:
	case <-c.stopCh:
	}
}

// Close stops accepting values.  A value which has not yet been delivered is
// still handed to the consumer before the output channel is closed.
func (c *Channel[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.inputCh)
	})
}

// Abort stops the pump immediately, dropping any undelivered value.  It is
// safe to call after Close.
func (c *Channel[T]) Abort() {
	c.abortOnce.Do(func() {
		close(c.stopCh)
	})
}

// C returns the channel the consumer reads from.
func (c *Channel[T]) C() <-chan T {
	return c.outputCh
}

func (c *Channel[T]) pump() {
	defer close(c.doneCh)
	defer close(c.outputCh)

	for {
		var latest T
		select {
		case v, ok := <-c.inputCh:
			if !ok {
				return
			}
			latest = v
		case <-c.stopCh:
			return
		}

		closed := false
	SendLoop:
		for {
			select {
			case c.outputCh <- latest:
				// go back to waiting for input, this guarantees that we never
				// deliver more values than were sent.
				break SendLoop
			case updated, ok := <-c.inputCh:
				if !ok {
					// stop reading the closed input, the pending value is
					// still delivered unless the consumer aborts.
					closed = true
					break SendLoop
				}

				latest = updated
			case <-c.stopCh:
				return
			}
		}

		if closed {
			select {
			case c.outputCh <- latest:
			case <-c.stopCh:
			}
			return
		}
	}
}
