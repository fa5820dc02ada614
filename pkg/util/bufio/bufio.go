// Package bufio contains a size-classed pool of bufio.Reader.
package bufio

import (
	"bufio"
	"io"
	"sync"
)

const (
	minPooledSize = 256
	maxPooledSize = 65536

	defaultBufSize = 4096
)

// readers holds one pool per power of two between min and max pooled size.
var readers = func() map[int]*sync.Pool {
	m := make(map[int]*sync.Pool)
	for n := minPooledSize; n <= maxPooledSize; n <<= 1 {
		m[n] = new(sync.Pool)
	}

	return m
}()

// AcquireReaderSize returns bufio.Reader with at least size bytes of buffer.
// Size is rounded up to the nearest power of two; zero means 4096 bytes. Sizes outside of pooled
// range are allocated every time.
func AcquireReaderSize(r io.Reader, size int) *bufio.Reader {
	n := sizeClass(size)

	if p, ok := readers[n]; ok {
		if v := p.Get(); v != nil {
			ret := v.(*bufio.Reader)
			ret.Reset(r)

			return ret
		}
	}

	return bufio.NewReaderSize(r, n)
}

// ReleaseReader takes bufio.Reader for future reuse.
// Size must be the same as used to acquire the reader; zero means default.
func ReleaseReader(r *bufio.Reader, size int) {
	if p, ok := readers[sizeClass(size)]; ok {
		r.Reset(nil)
		p.Put(r)
	}
}

func sizeClass(size int) int {
	if size <= 0 {
		size = defaultBufSize
	}

	if size < minPooledSize {
		return minPooledSize
	}

	return ceilToPowerOfTwo(size)
}

// ceilToPowerOfTwo rounds n up to the nearest power of two.
func ceilToPowerOfTwo(n int) int {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++

	return n
}
