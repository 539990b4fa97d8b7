/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package latestonly

import (
	"testing"
	"time"
)

func TestChannel_EmptyBlock(t *testing.T) {
	c := New[int]()

	select {
	case <-c.C():
		t.Fatalf("should have blocked")
	case <-time.After(10 * time.Millisecond):
	}

	c.Close()
}

func TestChannel_Single(t *testing.T) {
	c := New[int]()

	// sends never wait on the consumer, the pump acts as a 1-length buffer
	// which only holds the newest value.

	c.Send(1)
	recvNum := <-c.C()
	if recvNum != 1 {
		t.Fatalf("unexpected recv number")
	}

	c.Send(2)
	recvNum = <-c.C()
	if recvNum != 2 {
		t.Fatalf("unexpected recv number")
	}

	c.Close()

	_, ok := <-c.C()
	if ok {
		t.Fatalf("output channel was not closed")
	}
}

func TestChannel_Multiple(t *testing.T) {
	c := New[int]()

	c.Send(1)
	c.Send(2)
	c.Send(3)
	recvNum := <-c.C()
	if recvNum != 3 {
		t.Fatalf("unexpected recv number")
	}

	c.Send(4)
	c.Send(5)
	c.Send(6)
	recvNum = <-c.C()
	if recvNum != 6 {
		t.Fatalf("unexpected recv number")
	}

	c.Close()

	_, ok := <-c.C()
	if ok {
		t.Fatalf("output channel was not closed")
	}
}

func TestChannel_NeverReordered(t *testing.T) {
	c := New[int]()

	go func() {
		for i := 1; i <= 1000; i++ {
			c.Send(i)
		}
		c.Close()
	}()

	last := 0
	for v := range c.C() {
		if v <= last {
			t.Fatalf("received %d after %d", v, last)
		}
		last = v
	}

	if last != 1000 {
		t.Fatalf("final value was not delivered, last was %d", last)
	}
}

func TestChannel_CloseWithPendingValue(t *testing.T) {
	c := New[int]()

	c.Send(1)
	c.Close()

	select {
	case v, ok := <-c.C():
		if !ok {
			t.Fatalf("pending value was dropped")
		}
		if v != 1 {
			t.Fatalf("unexpected recv number")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("pending value was not delivered")
	}

	select {
	case _, ok := <-c.C():
		if ok {
			t.Fatalf("output channel was not closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("failed to close the output channel")
	}
}

func TestChannel_AbortDropsPendingValue(t *testing.T) {
	c := New[int]()

	c.Send(1)
	c.Abort()

	// once aborted, further sends must not block.
	c.Send(2)

	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case _, ok := <-c.C():
			if !ok {
				c.Close()
				c.Abort()
				return
			}
		case <-timeout:
			t.Fatalf("failed to close the output channel")
		}
	}
}

func TestChannel_AbortAfterCloseReleasesPump(t *testing.T) {
	c := New[int]()

	c.Send(1)
	c.Close()

	// the consumer never reads the pending value
	select {
	case <-c.doneCh:
		t.Fatalf("pump exited with an undelivered value")
	case <-time.After(10 * time.Millisecond):
	}

	c.Abort()

	select {
	case <-c.doneCh:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("pump was not released by abort")
	}
}
