// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalKey(t *testing.T) {
	k := MakeInternalKey([]byte("foo"), 0x08070605040302, 1)
	b := make([]byte, k.Size())
	k.Encode(b)
	if got, want := string(b), "foo\x01\x02\x03\x04\x05\x06\x07\x08"; got != want {
		t.Fatalf("k = %q want %q", got, want)
	}
	k = DecodeInternalKey(b)
	require.EqualValues(t, "foo", k.UserKey)
	require.Equal(t, SeqNum(0x08070605040302), k.SeqNum())
	require.Equal(t, InternalKeyKindSet, k.Kind())
	require.True(t, k.Valid())
}

func TestInvalidInternalKey(t *testing.T) {
	testCases := []string{
		"",
		"\x01\x02\x03\x04\x05\x06\x07",
	}
	for _, tc := range testCases {
		k := DecodeInternalKey([]byte(tc))
		require.False(t, k.Valid())
	}
}

func TestInternalKeyComparer(t *testing.T) {
	// keys are some internal keys, in sorted order.
	keys := []InternalKey{
		// The empty key is the smallest possible key.
		MakeSearchKey(nil),
		// Key with the maximum sequence number sorts first for a user key.
		MakeSearchKey([]byte("" + "0")),
		MakeInternalKey([]byte(""+"0"), 1, InternalKeyKindSet),
		MakeInternalKey([]byte(""+"0"), 0, InternalKeyKindDelete),
		// Keys with the same user key sort by descending sequence number.
		MakeInternalKey([]byte(""+"1"), 9, InternalKeyKindSet),
		MakeInternalKey([]byte(""+"1"), 8, InternalKeyKindDelete),
		MakeInternalKey([]byte(""+"1"), 2, InternalKeyKindSet),
		// Different user keys sort by ascending user key.
		MakeInternalKey([]byte(""+"2"), 0, InternalKeyKindSet),
		MakeInternalKey([]byte(""+"20"), 500, InternalKeyKindSet),
		MakeInternalKey([]byte(""+"3"), 100, InternalKeyKindDelete),
	}
	for i := range keys {
		for j := range keys {
			got := InternalCompare(bytes.Compare, keys[i], keys[j])
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = +1
			}
			if got != want {
				t.Fatalf("[%d]=%s vs [%d]=%s: got %d want %d", i, keys[i], j, keys[j], got, want)
			}
		}
	}

	// Shuffle and re-sort.
	shuffled := make([]InternalKey, len(keys))
	copy(shuffled, keys)
	for i := range shuffled {
		j := (i*7 + 3) % len(shuffled)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	sort.Slice(shuffled, func(i, j int) bool {
		return InternalCompare(bytes.Compare, shuffled[i], shuffled[j]) < 0
	})
	for i := range keys {
		require.Equal(t, 0, InternalCompare(bytes.Compare, keys[i], shuffled[i]))
	}
}

func TestDefaultComparerSeparator(t *testing.T) {
	testCases := []struct {
		a, b, want string
	}{
		{"black", "blue", "blb"},
		{"green", "green2", "green"},
		{"a", "a2", "a"},
		{"aaa", "ab", "aaa"},
		{"1357", "2", "1357"},
		{"adjacent", "adjacfnt", "adjacent"},
	}
	for _, tc := range testCases {
		got := string(DefaultComparer.Separator(nil, []byte(tc.a), []byte(tc.b)))
		require.Equal(t, tc.want, got, "Separator(%q, %q)", tc.a, tc.b)
		// The separator contract: a <= sep < b.
		require.LessOrEqual(t, DefaultComparer.Compare([]byte(tc.a), []byte(got)), 0)
		require.Less(t, DefaultComparer.Compare([]byte(got), []byte(tc.b)), 0)
	}
}

func TestDefaultComparerSuccessor(t *testing.T) {
	testCases := []struct {
		a, want string
	}{
		{"black", "c"},
		{"green", "h"},
		{"", ""},
		{"\xff\xff\x14", "\xff\xff\x15"},
		{"\xff\xff\xff", "\xff\xff\xff"},
	}
	for _, tc := range testCases {
		got := string(DefaultComparer.Successor(nil, []byte(tc.a)))
		require.Equal(t, tc.want, got, "Successor(%q)", tc.a)
		require.LessOrEqual(t, DefaultComparer.Compare([]byte(tc.a), []byte(got)), 0)
	}
}

func TestSharedPrefixLen(t *testing.T) {
	require.Equal(t, 0, SharedPrefixLen([]byte("abc"), []byte("xyz")))
	require.Equal(t, 2, SharedPrefixLen([]byte("abc"), []byte("abz")))
	require.Equal(t, 3, SharedPrefixLen([]byte("abc"), []byte("abcdef")))
	require.Equal(t, 0, SharedPrefixLen(nil, []byte("abc")))
}
