/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package latestonlychannel

// Wrap returns a channel that yields values from inputCh, but never lets the
// producer block on a slow consumer: while a value is waiting to be
// delivered, newer inputs replace it.  The output is closed once inputCh is
// closed, dropping any value still pending.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)
	go forward(inputCh, outputCh)
	return outputCh
}

// Pipe returns both ends of a coalescing channel.  Sends on the input end
// succeed as soon as the forwarding goroutine picks them up.  Closing the
// input end releases the goroutine and closes the output end.
func Pipe[T any]() (chan<- T, <-chan T) {
	inputCh := make(chan T)
	return inputCh, Wrap(inputCh)
}

func forward[T any](inputCh <-chan T, outputCh chan<- T) {
	defer close(outputCh)

	var pending T
	hasPending := false

	for {
		// a nil channel never fires, which disables the send case until
		// there is something to deliver
		var sendCh chan<- T
		if hasPending {
			sendCh = outputCh
		}

		select {
		case value, ok := <-inputCh:
			if !ok {
				return
			}
			pending = value
			hasPending = true
		case sendCh <- pending:
			var zero T
			pending = zero
			hasPending = false
		}
	}
}
