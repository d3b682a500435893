// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func (p FilterPolicy) createFilter(keys [][]byte) []byte {
	return p.AppendFilter(nil, keys)
}

func TestSmallBloomFilter(t *testing.T) {
	f := FilterPolicy(10).createFilter([][]byte{
		[]byte("hello"),
		[]byte("world"),
	})

	require.True(t, FilterPolicy(10).MayContain(f, []byte("hello")))
	require.True(t, FilterPolicy(10).MayContain(f, []byte("world")))
	require.False(t, FilterPolicy(10).MayContain(f, []byte("x")))
	require.False(t, FilterPolicy(10).MayContain(f, []byte("foo")))
}

func TestNoFalseNegatives(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 10, 100, 1000, 10000} {
		keys := make([][]byte, n)
		for i := range keys {
			keys[i] = []byte(fmt.Sprintf("key-%d-%d", i, rng.Uint32()))
		}
		f := FilterPolicy(10).createFilter(keys)
		for _, k := range keys {
			require.True(t, FilterPolicy(10).MayContain(f, k), "n=%d key=%q", n, k)
		}
	}
}

func TestFalsePositiveRate(t *testing.T) {
	const n = 10000
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("present-%d", i))
	}
	f := FilterPolicy(10).createFilter(keys)

	falsePositives := 0
	for i := 0; i < n; i++ {
		if FilterPolicy(10).MayContain(f, []byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	// 10 bits per key yields a ~1% false positive rate; anything under 5%
	// indicates a working filter.
	if fpRate := float64(falsePositives) / n; fpRate > 0.05 {
		t.Fatalf("false positive rate %0.4f > 0.05", fpRate)
	}
}

func TestEmptyAndShortFilters(t *testing.T) {
	// A degenerate filter never asserts absence incorrectly.
	require.False(t, FilterPolicy(10).MayContain(nil, []byte("x")))
	require.False(t, FilterPolicy(10).MayContain([]byte{0x01}, []byte("x")))
	// A reserved encoding (k > 30) conservatively matches everything.
	require.True(t, FilterPolicy(10).MayContain([]byte{0x00, 0x00, 0xff}, []byte("x")))
}

func TestHash(t *testing.T) {
	// The magic want numbers come from running the C++ leveldb code in hash.cc.
	testCases := []struct {
		s    string
		want uint32
	}{
		{"", 0xbc9f1d34},
		{"g", 0xd04a8bda},
		{"go", 0x3e0b0745},
		{"gop", 0x0c326610},
		{"goph", 0x8c9d6390},
		{"gophe", 0x9bfd4b0a},
		{"gopher", 0xa78edc7c},
		{"I had a dream it would end this way.", 0xe14a9db9},
	}
	for _, tc := range testCases {
		require.EqualValues(t, tc.want, hash([]byte(tc.s)), "hash(%q)", tc.s)
	}
}
