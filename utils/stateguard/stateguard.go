/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package stateguard implements a lock-free integer state cell which is used
// to make lifecycle transitions (start once, stop once, dispose once) safe to
// invoke concurrently without holding a lock.
package stateguard

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"
)

// ErrInvalidTransition is the error that TryChangeFrom panics with when it is
// asked to move from a state to the same state.
var ErrInvalidTransition = errors.New("invalid state transition")

type Guard struct {
	value *atomic.Int32
}

// New creates a Guard holding the initial state.
func New(initial int32) *Guard {
	return &Guard{
		value: atomic.NewInt32(initial),
	}
}

// Value returns the current state.
func (g *Guard) Value() int32 {
	return g.value.Load()
}

// Is reports whether the current state is equal to state.
func (g *Guard) Is(state int32) bool {
	return g.value.Load() == state
}

// TryChange sets the state to `to` and returns whether the previous state
// was different.  If the state was already `to`, nothing changes.
func (g *Guard) TryChange(to int32) bool {
	return g.value.Swap(to) != to
}

// TryChangeFrom atomically moves the state from `from` to `to`, returning
// false without modifying anything when the current state is not `from`.
// Asking for a transition to the same state is a bug in the caller and panics
// with an error wrapping ErrInvalidTransition.
func (g *Guard) TryChangeFrom(from, to int32) bool {
	if from == to {
		panic(fmt.Errorf("%w: %d -> %d", ErrInvalidTransition, from, to))
	}

	return g.value.CompareAndSwap(from, to)
}
