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

package plnvme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphoreSetWait(t *testing.T) {
	sem := SemaphoreCreate(1)

	// polling an unset semaphore does not block
	assert.False(t, sem.Wait(0))

	sem.Set()
	assert.True(t, sem.Wait(0))
	assert.False(t, sem.Wait(0))
}

func TestSemaphoreSaturation(t *testing.T) {
	sem := SemaphoreCreate(1)

	// signals beyond the capacity are dropped
	sem.Set()
	sem.Set()
	sem.Set()
	assert.True(t, sem.Wait(0))
	assert.False(t, sem.Wait(0))
}

func TestSemaphoreTimedWait(t *testing.T) {
	sem := SemaphoreCreate(1)

	start := time.Now()
	assert.False(t, sem.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sem.Set()
	}()
	assert.True(t, sem.Wait(time.Second))
}

func TestSemaphoreInfiniteWait(t *testing.T) {
	sem := SemaphoreCreate(1)

	done := make(chan bool)
	go func() {
		done <- sem.Wait(TIME_INFINITE)
	}()

	sem.Set()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("infinite wait did not return after set")
	}
}
