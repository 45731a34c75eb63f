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
// Byte FIFO used to reassemble 4 KByte data blocks from the variable sized
// PCIe write packets arriving on the streaming region. Single producer,
// single consumer, no internal locking.

package plnvme

// Fifo is a circular byte buffer with wrap-around reads and writes.
type Fifo struct {
	buf  []byte
	head int // next read position
	tail int // next write position
	used int
}

// FifoCreate creates a new byte FIFO holding up to size bytes.
func FifoCreate(size int) *Fifo {
	return &Fifo{
		buf: make([]byte, size),
	}
}

// WriteAvailable returns the number of bytes that can be written before the
// FIFO is full.
func (fifo *Fifo) WriteAvailable() int {
	return len(fifo.buf) - fifo.used
}

// ReadAvailable returns the number of bytes buffered.
func (fifo *Fifo) ReadAvailable() int {
	return fifo.used
}

// Write copies data into the FIFO, wrapping around the end of the buffer.
// It returns the number of bytes written, which is less than len(data) if
// the FIFO fills up.
func (fifo *Fifo) Write(data []byte) int {
	n := len(data)
	if avail := fifo.WriteAvailable(); n > avail {
		n = avail
	}

	// first segment, up to the end of the buffer
	n0 := n
	if n0 > len(fifo.buf)-fifo.tail {
		n0 = len(fifo.buf) - fifo.tail
	}
	copy(fifo.buf[fifo.tail:], data[:n0])

	// wrapped segment
	copy(fifo.buf, data[n0:n])

	fifo.tail = (fifo.tail + n) % len(fifo.buf)
	fifo.used += n
	return n
}

// Read copies up to len(data) buffered bytes out of the FIFO, wrapping
// around the end of the buffer. It returns the number of bytes read.
func (fifo *Fifo) Read(data []byte) int {
	n := len(data)
	if n > fifo.used {
		n = fifo.used
	}

	n0 := n
	if n0 > len(fifo.buf)-fifo.head {
		n0 = len(fifo.buf) - fifo.head
	}
	copy(data[:n0], fifo.buf[fifo.head:])
	copy(data[n0:n], fifo.buf)

	fifo.head = (fifo.head + n) % len(fifo.buf)
	fifo.used -= n
	return n
}

// Reset empties the FIFO.
func (fifo *Fifo) Reset() {
	fifo.head = 0
	fifo.tail = 0
	fifo.used = 0
}
