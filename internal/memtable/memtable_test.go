// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package memtable

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func ikey(ukey string, seqNum base.SeqNum, kind base.InternalKeyKind) base.InternalKey {
	return base.MakeInternalKey([]byte(ukey), seqNum, kind)
}

func TestEmpty(t *testing.T) {
	m := New(bytes.Compare)
	require.True(t, m.Empty())

	m.Set(ikey("a", 1, base.InternalKeyKindSet), []byte("x"))
	require.False(t, m.Empty())
}

func TestGetVisibility(t *testing.T) {
	m := New(bytes.Compare)
	m.Set(ikey("k", 1, base.InternalKeyKindSet), []byte("v1"))
	m.Set(ikey("k", 3, base.InternalKeyKindSet), []byte("v3"))
	m.Set(ikey("k", 5, base.InternalKeyKindDelete), nil)

	// Each sequence number sees the newest entry at or below it.
	v, conclusive, err := m.Get([]byte("k"), 1)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.EqualValues(t, "v1", v)

	v, conclusive, err = m.Get([]byte("k"), 4)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.EqualValues(t, "v3", v)

	_, conclusive, err = m.Get([]byte("k"), 5)
	require.True(t, conclusive)
	require.Equal(t, base.ErrNotFound, err)

	// A key with no entries at all is a miss, not a tombstone.
	_, conclusive, _ = m.Get([]byte("other"), 5)
	require.False(t, conclusive)

	// Sequence numbers below the first entry see nothing.
	_, conclusive, _ = m.Get([]byte("k"), 0)
	require.False(t, conclusive)
}

func TestIterOrdering(t *testing.T) {
	m := New(bytes.Compare)
	// Insert out of order; iteration must be in internal key order:
	// ascending user key, descending sequence number.
	m.Set(ikey("b", 2, base.InternalKeyKindSet), []byte("b2"))
	m.Set(ikey("a", 1, base.InternalKeyKindSet), []byte("a1"))
	m.Set(ikey("c", 5, base.InternalKeyKindDelete), nil)
	m.Set(ikey("a", 4, base.InternalKeyKindSet), []byte("a4"))
	m.Set(ikey("c", 3, base.InternalKeyKindSet), []byte("c3"))

	want := []string{"a#4,SET", "a#1,SET", "b#2,SET", "c#5,DEL", "c#3,SET"}

	it := m.NewIter()
	defer it.Close()
	var got []string
	for it.First(); it.Valid(); it.Next() {
		got = append(got, it.Key().String())
	}
	require.Equal(t, want, got)

	// And in reverse.
	got = got[:0]
	for it.Last(); it.Valid(); it.Prev() {
		got = append(got, it.Key().String())
	}
	for i, j := 0, len(got)-1; i < j; i, j = i+1, j-1 {
		got[i], got[j] = got[j], got[i]
	}
	require.Equal(t, want, got)
}

func TestIterSeek(t *testing.T) {
	m := New(bytes.Compare)
	for i := 0; i < 10; i++ {
		m.Set(ikey(fmt.Sprintf("k%02d", i*2), base.SeqNum(i+1), base.InternalKeyKindSet), []byte{byte(i)})
	}

	it := m.NewIter()
	defer it.Close()

	it.SeekGE(base.MakeSearchKey([]byte("k07")))
	require.True(t, it.Valid())
	require.EqualValues(t, "k08", it.Key().UserKey)

	it.SeekGE(base.MakeSearchKey([]byte("k08")))
	require.True(t, it.Valid())
	require.EqualValues(t, "k08", it.Key().UserKey)

	it.SeekGE(base.MakeSearchKey([]byte("k99")))
	require.False(t, it.Valid())

	it.SeekLT(base.MakeSearchKey([]byte("k07")))
	require.True(t, it.Valid())
	require.EqualValues(t, "k06", it.Key().UserKey)

	it.SeekLT(base.MakeSearchKey([]byte("k00")))
	require.False(t, it.Valid())
}

func TestConcurrentReaders(t *testing.T) {
	const n = 1000
	m := New(bytes.Compare)

	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2*n; j++ {
				it := m.NewIter()
				prev := base.InternalKey{}
				count := 0
				for it.First(); it.Valid(); it.Next() {
					if count > 0 {
						require.Negative(t, base.InternalCompare(bytes.Compare, prev, it.Key()))
					}
					prev = it.Key().Clone()
					count++
				}
				it.Close()
			}
		}()
	}

	// A single writer inserts alongside the readers.
	for i := 0; i < n; i++ {
		m.Set(ikey(fmt.Sprintf("key%06d", i%256), base.SeqNum(i+1), base.InternalKeyKindSet), []byte("value"))
	}
	wg.Wait()

	require.Equal(t, n, countEntries(m))
}

func countEntries(m *MemTable) int {
	it := m.NewIter()
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n
}

func TestApproximateMemoryUsage(t *testing.T) {
	m := New(bytes.Compare)
	require.Zero(t, m.ApproximateMemoryUsage())
	m.Set(ikey("key", 1, base.InternalKeyKindSet), bytes.Repeat([]byte("v"), 1000))
	require.Greater(t, m.ApproximateMemoryUsage(), 1000)
}
