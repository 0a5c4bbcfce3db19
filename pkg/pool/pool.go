// Object pools for reducing GC pressure in hot paths
//
// Provides reusable object pools for the types the preprocessor allocates
// once per G-code line:
// - Parameter maps (letter to value, for parsed commands)
// - Byte buffers (for serializing output lines)
// - String slices (for assembled wipe sequences)
// - Status maps (for monitor broadcasts)
//
// Usage:
//
//	params := pool.GetParamsMap()
//	defer pool.PutParamsMap(params)
//	// use params...
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
)

// ParamsMap pool - for G-code parameter maps keyed by address letter
var paramsMapPool = sync.Pool{
	New: func() any {
		return make(map[byte]float64, 8) // Pre-allocate common size
	},
}

// GetParamsMap gets a parameter map from the pool
func GetParamsMap() map[byte]float64 {
	return paramsMapPool.Get().(map[byte]float64)
}

// PutParamsMap returns a parameter map to the pool after clearing it
func PutParamsMap(m map[byte]float64) {
	if m == nil {
		return
	}
	// Clear the map
	clear(m)
	paramsMapPool.Put(m)
}

// ByteBuffer pool - for serialization buffers
type ByteBuffer struct {
	buf []byte
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{
			buf: make([]byte, 0, 64), // Common line size
		}
	},
}

// GetByteBuffer gets a byte buffer from the pool
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0] // Reset length but keep capacity
	return b
}

// PutByteBuffer returns a byte buffer to the pool
func PutByteBuffer(b *ByteBuffer) {
	if b == nil {
		return
	}
	// Don't pool oversized buffers (> 4KB)
	if cap(b.buf) > 4096 {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// String returns the buffer contents as a string
func (b *ByteBuffer) String() string {
	return string(b.buf)
}

// Write appends bytes to the buffer
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte
func (b *ByteBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// WriteString appends a string
func (b *ByteBuffer) WriteString(s string) (int, error) {
	b.buf = append(b.buf, s...)
	return len(s), nil
}

// Len returns the buffer length
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Cap returns the buffer capacity
func (b *ByteBuffer) Cap() int {
	return cap(b.buf)
}

// Reset clears the buffer
func (b *ByteBuffer) Reset() {
	b.buf = b.buf[:0]
}

// Grow ensures the buffer has capacity for n more bytes
func (b *ByteBuffer) Grow(n int) {
	if cap(b.buf)-len(b.buf) < n {
		newCap := cap(b.buf)*2 + n
		newBuf := make([]byte, len(b.buf), newCap)
		copy(newBuf, b.buf)
		b.buf = newBuf
	}
}

// StringSlice pool - for assembled output line batches
var stringSlicePool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 16)
		return &s
	},
}

// GetStringSlice gets a string slice from the pool
func GetStringSlice() *[]string {
	s := stringSlicePool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// PutStringSlice returns a string slice to the pool
func PutStringSlice(s *[]string) {
	if s == nil || cap(*s) > 256 {
		return
	}
	// Clear to allow GC of string contents
	for i := range *s {
		(*s)[i] = ""
	}
	*s = (*s)[:0]
	stringSlicePool.Put(s)
}

// StatusMap pool - for monitor status payloads
var statusMapPool = sync.Pool{
	New: func() any {
		return make(map[string]any, 16)
	},
}

// GetStatusMap gets a status map from the pool
func GetStatusMap() map[string]any {
	return statusMapPool.Get().(map[string]any)
}

// PutStatusMap returns a status map to the pool
func PutStatusMap(m map[string]any) {
	if m == nil {
		return
	}
	clear(m)
	statusMapPool.Put(m)
}
