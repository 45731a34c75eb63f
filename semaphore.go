// The MIT License
//
// Copyright (c) 2020-2021 by the author(s)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Description:
//
// Counting semaphore with timed wait. Used for reply correlation between the
// dispatcher goroutine and foreground PCIe/NVMe transactions.

package plnvme

import "time"

// TIME_INFINITE makes Semaphore.Wait block until the semaphore is set.
const TIME_INFINITE = time.Duration(-1)

// Semaphore is a counting semaphore. Set never blocks: signals beyond the
// semaphore's capacity are dropped, which gives the level-triggered
// behaviour the reply correlation relies on.
type Semaphore struct {
	ch chan struct{}
}

// SemaphoreCreate creates a new semaphore with the given capacity and an
// initial count of zero.
func SemaphoreCreate(capacity int) *Semaphore {
	return &Semaphore{
		ch: make(chan struct{}, capacity),
	}
}

// Set increments the semaphore. If the semaphore is already at capacity the
// signal is dropped.
func (sem *Semaphore) Set() {
	select {
	case sem.ch <- struct{}{}:
	default:
	}
}

// Wait decrements the semaphore, blocking for up to the given duration.
// A zero timeout polls, TIME_INFINITE waits forever. Returns false if the
// timeout expired before the semaphore was set.
func (sem *Semaphore) Wait(timeout time.Duration) bool {
	if timeout == TIME_INFINITE {
		<-sem.ch
		return true
	}

	if timeout == 0 {
		select {
		case <-sem.ch:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sem.ch:
		return true
	case <-timer.C:
		return false
	}
}
