// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/cockroachdb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func makeIkey(s string, seqNum base.SeqNum) base.InternalKey {
	return base.MakeInternalKey([]byte(s), seqNum, base.InternalKeyKindSet)
}

func buildTestBlock(t *testing.T, restartInterval int, keys []string) []byte {
	w := blockWriter{restartInterval: restartInterval}
	for i, k := range keys {
		w.add(makeIkey(k, base.SeqNum(i+1)), []byte("value-"+k))
	}
	return w.finish()
}

func TestBlockRoundTrip(t *testing.T) {
	keys := []string{
		"apple", "apricot", "banana", "blueberry", "cherry",
		"date", "elderberry", "fig", "grape",
	}
	for _, restartInterval := range []int{1, 2, 16} {
		t.Run(fmt.Sprintf("restart=%d", restartInterval), func(t *testing.T) {
			block := buildTestBlock(t, restartInterval, keys)
			i, err := newBlockIter(bytes.Compare, block)
			require.NoError(t, err)

			var got []string
			for i.First(); i.Valid(); i.Next() {
				got = append(got, string(i.Key().UserKey))
				require.EqualValues(t, "value-"+string(i.Key().UserKey), i.Value())
			}
			require.Equal(t, keys, got)
			require.NoError(t, i.Close())
		})
	}
}

func TestBlockReverseIteration(t *testing.T) {
	keys := []string{"a", "ab", "abc", "b", "bcd", "c", "cd", "d"}
	block := buildTestBlock(t, 3, keys)
	i, err := newBlockIter(bytes.Compare, block)
	require.NoError(t, err)

	var got []string
	for i.Last(); i.Valid(); i.Prev() {
		got = append(got, string(i.Key().UserKey))
	}
	for lo, hi := 0, len(got)-1; lo < hi; lo, hi = lo+1, hi-1 {
		got[lo], got[hi] = got[hi], got[lo]
	}
	require.Equal(t, keys, got)
}

func TestBlockSeek(t *testing.T) {
	keys := []string{"aa", "cc", "ee", "gg", "ii"}
	block := buildTestBlock(t, 2, keys)
	i, err := newBlockIter(bytes.Compare, block)
	require.NoError(t, err)

	testCases := []struct {
		seek string
		want string
	}{
		{"a", "aa"},
		{"aa", "aa"},
		{"bb", "cc"},
		{"ii", "ii"},
	}
	for _, tc := range testCases {
		i.SeekGE(base.MakeSearchKey([]byte(tc.seek)))
		require.True(t, i.Valid(), "SeekGE(%q)", tc.seek)
		require.EqualValues(t, tc.want, i.Key().UserKey, "SeekGE(%q)", tc.seek)
	}

	i.SeekGE(base.MakeSearchKey([]byte("jj")))
	require.False(t, i.Valid())

	// SeekLT.
	i.SeekLT(base.MakeSearchKey([]byte("cc")))
	require.True(t, i.Valid())
	require.EqualValues(t, "aa", i.Key().UserKey)

	i.SeekLT(base.MakeSearchKey([]byte("zz")))
	require.True(t, i.Valid())
	require.EqualValues(t, "ii", i.Key().UserKey)

	i.SeekLT(base.MakeSearchKey([]byte("aa")))
	require.False(t, i.Valid())
}

func TestBlockSeekAmongVersions(t *testing.T) {
	// Multiple versions of a user key sort by descending sequence number; a
	// search key with a given sequence number lands on the newest version at
	// or below it.
	w := blockWriter{restartInterval: 16}
	w.add(base.MakeInternalKey([]byte("k"), 9, base.InternalKeyKindSet), []byte("v9"))
	w.add(base.MakeInternalKey([]byte("k"), 5, base.InternalKeyKindDelete), nil)
	w.add(base.MakeInternalKey([]byte("k"), 2, base.InternalKeyKindSet), []byte("v2"))
	block := w.finish()

	i, err := newBlockIter(bytes.Compare, block)
	require.NoError(t, err)

	i.SeekGE(base.MakeInternalKey([]byte("k"), 7, base.InternalKeyKindMax))
	require.True(t, i.Valid())
	require.Equal(t, base.SeqNum(5), i.Key().SeqNum())
	require.Equal(t, base.InternalKeyKindDelete, i.Key().Kind())

	i.SeekGE(base.MakeInternalKey([]byte("k"), 2, base.InternalKeyKindMax))
	require.True(t, i.Valid())
	require.Equal(t, base.SeqNum(2), i.Key().SeqNum())
}

func TestEmptyBlock(t *testing.T) {
	w := blockWriter{restartInterval: 16}
	block := w.finish()
	i, err := newBlockIter(bytes.Compare, block)
	require.NoError(t, err)
	i.First()
	require.False(t, i.Valid())
	i.Last()
	require.False(t, i.Valid())
	i.SeekGE(base.MakeSearchKey([]byte("a")))
	require.False(t, i.Valid())
}
