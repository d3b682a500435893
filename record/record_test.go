// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func short(s string) string {
	if len(s) < 64 {
		return s
	}
	return fmt.Sprintf("%s...(skipping %d bytes)...%s", s[:20], len(s)-40, s[len(s)-20:])
}

// big returns a string of length n, composed of repetitions of partial.
func big(partial string, n int) string {
	return strings.Repeat(partial, n/len(partial)+1)[:n]
}

func testGenerator(t *testing.T, reset func(), gen func() (string, bool)) {
	buf := new(bytes.Buffer)

	reset()
	w := NewWriter(buf)
	for {
		s, ok := gen()
		if !ok {
			break
		}
		ww, err := w.Next()
		require.NoError(t, err)
		_, err = ww.Write([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	reset()
	r := NewReader(buf, nil)
	for {
		s, ok := gen()
		if !ok {
			break
		}
		rr, err := r.Next()
		require.NoError(t, err)
		x, err := io.ReadAll(rr)
		require.NoError(t, err)
		if string(x) != s {
			t.Fatalf("got %q, want %q", short(string(x)), short(s))
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("got %v, want %v", err, io.EOF)
	}
}

func testLiterals(t *testing.T, s []string) {
	var i int
	reset := func() {
		i = 0
	}
	gen := func() (string, bool) {
		if i == len(s) {
			return "", false
		}
		i++
		return s[i-1], true
	}
	testGenerator(t, reset, gen)
}

func TestEmpty(t *testing.T) {
	testGenerator(t, func() {}, func() (string, bool) {
		return "", false
	})
}

func TestBoundary(t *testing.T) {
	for i := blockSize - 16; i < blockSize+16; i++ {
		s0 := big("abc", i)
		for j := blockSize - 16; j < blockSize+16; j++ {
			s1 := big("ABCDE", j)
			testLiterals(t, []string{s0, s1})
			testLiterals(t, []string{s0, "", s1})
			testLiterals(t, []string{s0, "x", s1})
		}
	}
}

func TestFlush(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	// Write a couple of records. Everything should still be held
	// in the record.Writer buffer, so that buf.Len should be 0.
	w0, _ := w.Next()
	w0.Write([]byte("0"))
	w1, _ := w.Next()
	w1.Write([]byte("11"))
	require.Equal(t, 0, buf.Len())
	// Flush the record.Writer buffer, which should yield 17 bytes.
	// 17 = 2*7 + 1 + 2, which is two headers and 1 + 2 payload bytes.
	require.NoError(t, w.Flush())
	require.Equal(t, 17, buf.Len())
	// Do another write, one that isn't large enough to complete the block.
	// The write should not have flowed through to buf.
	w2, _ := w.Next()
	w2.Write(bytes.Repeat([]byte("2"), 10000))
	require.Equal(t, 17, buf.Len())
	// Flushing should get us up to 10024 bytes written.
	// 10024 = 17 + 7 + 10000.
	require.NoError(t, w.Flush())
	require.Equal(t, 10024, buf.Len())
	// Do a bigger write, one that completes the current block.
	// We should now have 32768 bytes (a complete block), without
	// an explicit flush.
	w3, _ := w.Next()
	w3.Write(bytes.Repeat([]byte("3"), 40000))
	require.Equal(t, blockSize, buf.Len())
	// Flushing should get us up to 50038 bytes written.
	// 50038 = 10024 + 2*7 + 40000. There are two headers because
	// the one record is split into two chunks.
	require.NoError(t, w.Flush())
	require.Equal(t, 50038, buf.Len())
}

func TestNonExhaustiveRead(t *testing.T) {
	const n = 100
	buf := new(bytes.Buffer)
	p := make([]byte, 10)
	rnd := rand.New(rand.NewSource(1))

	w := NewWriter(buf)
	for i := 0; i < n; i++ {
		length := len(p) + rnd.Intn(3*blockSize)
		s := string(uint8(i)) + "123456789abcdefgh"
		ww, _ := w.Next()
		ww.Write([]byte(big(s, length)))
	}
	require.NoError(t, w.Close())

	r := NewReader(buf, nil)
	for i := 0; i < n; i++ {
		rr, _ := r.Next()
		_, err := io.ReadFull(rr, p)
		require.NoError(t, err)
		want := string(uint8(i)) + "123456789"
		if got := string(p); got != want {
			t.Fatalf("read #%d: got %q want %q", i, got, want)
		}
	}
}

func TestStaleReader(t *testing.T) {
	buf := new(bytes.Buffer)

	w := NewWriter(buf)
	w0, err := w.Next()
	require.NoError(t, err)
	w0.Write([]byte("0"))
	w1, err := w.Next()
	require.NoError(t, err)
	w1.Write([]byte("11"))
	require.NoError(t, w.Close())

	r := NewReader(buf, nil)
	r0, err := r.Next()
	require.NoError(t, err)
	r1, err := r.Next()
	require.NoError(t, err)
	p := make([]byte, 1)
	if _, err := r0.Read(p); err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("stale read #0: unexpected error: %v", err)
	}
	if _, err := r1.Read(p); err != nil {
		t.Fatalf("fresh read #1: got %v want nil error", err)
	}
}

type countingDropper struct {
	n     int
	bytes int
}

func (d *countingDropper) Drop(err error, n int) {
	d.n++
	d.bytes += n
}

func TestTornTail(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("hello"))
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Truncate the file in the middle of the second record, simulating a
	// crash mid-write.
	data := buf.Bytes()
	torn := data[: len(data)-3 : len(data)-3]

	var d countingDropper
	r := NewReader(bytes.NewReader(torn), &d)
	rr, err := r.Next()
	require.NoError(t, err)
	x, err := io.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "hello", string(x))

	// The torn record must be discarded whole.
	_, err = r.Next()
	require.True(t, IsInvalidRecord(err) || err == io.EOF, "got %v", err)
}

func TestCorruptRecordSkipped(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	for _, s := range []string{"alpha", "bravo", "charlie"} {
		_, err := w.WriteRecord([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Corrupt the payload of the second record. Each record occupies
	// headerSize + 5 bytes.
	data := append([]byte(nil), buf.Bytes()...)
	data[headerSize+5+headerSize+2] ^= 0xff

	var d countingDropper
	r := NewReader(bytes.NewReader(data), &d)

	rr, err := r.Next()
	require.NoError(t, err)
	x, err := io.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "alpha", string(x))

	// The reader skips the damaged record (and, because resynchronization is
	// per-block, the remainder of the block) and reports the dropped bytes.
	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	require.Greater(t, d.n, 0)
}

func TestZeroedTailSkipped(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate file preallocation by appending zeroes.
	data := append([]byte(nil), buf.Bytes()...)
	data = append(data, make([]byte, 64)...)

	var d countingDropper
	r := NewReader(bytes.NewReader(data), &d)
	rr, err := r.Next()
	require.NoError(t, err)
	x, err := io.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "payload", string(x))

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}

func TestNoRoomForHeader(t *testing.T) {
	// A record that leaves fewer than headerSize bytes in the block forces
	// zero padding and a fresh block.
	payloadSize := blockSize - headerSize - 3
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte(big("x", payloadSize)))
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(buf, nil)
	for _, want := range []string{big("x", payloadSize), "tail"} {
		rr, err := r.Next()
		require.NoError(t, err)
		x, err := io.ReadAll(rr)
		require.NoError(t, err)
		require.Equal(t, want, string(x))
	}
	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}
