// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"fmt"
	"sort"
	"testing"

	"github.com/cockroachdb/shale/bloom"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/cache"
	"github.com/cockroachdb/shale/vfs"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// buildTable writes the given sorted key/value pairs to a table in the
// memory-backed filesystem and returns a reader for it.
func buildTable(
	t *testing.T, fs vfs.FS, name string, kvs map[string]string, keys []string, wo WriterOptions, ro ReaderOptions,
) *Reader {
	f, err := fs.Create(name)
	require.NoError(t, err)
	w := NewWriter(f, wo)
	for i, k := range keys {
		require.NoError(t, w.Add(base.MakeInternalKey([]byte(k), base.SeqNum(i+1), base.InternalKeyKindSet), []byte(kvs[k])))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	f, err = fs.Open(name)
	require.NoError(t, err)
	c := cache.New(8 << 20)
	r := NewReader(f, 1, c.NewID(), c, ro)
	return r
}

func randomKVs(n int, rng *rand.Rand) (map[string]string, []string) {
	kvs := make(map[string]string, n)
	keys := make([]string, 0, n)
	for len(kvs) < n {
		k := fmt.Sprintf("key-%08d", rng.Intn(n*10))
		if _, ok := kvs[k]; ok {
			continue
		}
		kvs[k] = fmt.Sprintf("value-%d", rng.Uint64())
		keys = append(keys, k)
	}
	// The keys were generated in random order; sort them for the writer.
	sort.Strings(keys)
	return kvs, keys
}

func TestTableRoundTrip(t *testing.T) {
	for _, compression := range []base.Compression{base.NoCompression, base.SnappyCompression} {
		t.Run(compression.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			kvs, keys := randomKVs(2000, rng)
			fs := vfs.NewMem()
			r := buildTable(t, fs, "test.ldb", kvs, keys,
				WriterOptions{Compression: compression},
				ReaderOptions{})
			defer r.Close()

			i := r.NewIter(BlockReadOptions{})
			var got int
			for i.First(); i.Valid(); i.Next() {
				k := string(i.Key().UserKey)
				require.Equal(t, kvs[k], string(i.Value()))
				got++
			}
			require.NoError(t, i.Error())
			require.NoError(t, i.Close())
			require.Equal(t, len(keys), got)
		})
	}
}

func TestTableGetWithBloomFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	kvs, keys := randomKVs(10000, rng)
	fs := vfs.NewMem()
	wo := WriterOptions{FilterPolicy: bloom.FilterPolicy(10)}
	ro := ReaderOptions{FilterPolicy: bloom.FilterPolicy(10)}
	r := buildTable(t, fs, "bloom.ldb", kvs, keys, wo, ro)
	defer r.Close()

	// Every written key gets its value back.
	for _, k := range keys {
		v, err := r.Get(base.MakeSearchKey([]byte(k)), BlockReadOptions{})
		require.NoError(t, err, "key %q", k)
		require.Equal(t, kvs[k], string(v))
	}

	// Probed non-keys return not found.
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("missing-%08d", i)
		_, err := r.Get(base.MakeSearchKey([]byte(k)), BlockReadOptions{})
		require.Equal(t, base.ErrNotFound, err)
	}

	// The filter's false positive rate on a disjoint key set stays under 5%.
	falsePositives := 0
	probes := 0
	for i := 0; i < 10000; i++ {
		k := []byte(fmt.Sprintf("disjoint-%08d", i))
		ok, err := r.MayContain(base.MakeSearchKey(k), BlockReadOptions{})
		require.NoError(t, err)
		probes++
		if ok {
			falsePositives++
		}
	}
	if fpRate := float64(falsePositives) / float64(probes); fpRate >= 0.05 {
		t.Fatalf("false positive rate %0.4f >= 0.05", fpRate)
	}
}

func TestTableSeek(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	kvs, keys := randomKVs(500, rng)
	fs := vfs.NewMem()
	r := buildTable(t, fs, "seek.ldb", kvs, keys, WriterOptions{BlockSize: 256}, ReaderOptions{})
	defer r.Close()

	i := r.NewIter(BlockReadOptions{})
	defer i.Close()

	// SeekGE to each key in turn.
	for _, k := range keys {
		i.SeekGE(base.MakeSearchKey([]byte(k)))
		require.True(t, i.Valid(), "SeekGE(%q)", k)
		require.EqualValues(t, k, i.Key().UserKey)
	}

	// SeekLT lands on the preceding key.
	for j := 1; j < len(keys); j++ {
		i.SeekLT(base.MakeSearchKey([]byte(keys[j])))
		require.True(t, i.Valid(), "SeekLT(%q)", keys[j])
		require.EqualValues(t, keys[j-1], i.Key().UserKey)
	}
	i.SeekLT(base.MakeSearchKey([]byte(keys[0])))
	require.False(t, i.Valid())

	// Reverse iteration visits every key.
	var got int
	for i.Last(); i.Valid(); i.Prev() {
		require.Equal(t, keys[len(keys)-1-got], string(i.Key().UserKey))
		got++
	}
	require.Equal(t, len(keys), got)
}

func TestTableEmpty(t *testing.T) {
	fs := vfs.NewMem()
	r := buildTable(t, fs, "empty.ldb", nil, nil, WriterOptions{}, ReaderOptions{})
	defer r.Close()

	i := r.NewIter(BlockReadOptions{})
	i.First()
	require.False(t, i.Valid())
	require.NoError(t, i.Close())

	_, err := r.Get(base.MakeSearchKey([]byte("any")), BlockReadOptions{})
	require.Equal(t, base.ErrNotFound, err)
}

func TestTableBadMagic(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("bad.ldb")
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.Open("bad.ldb")
	require.NoError(t, err)
	r := NewReader(f, 1, 0, nil, ReaderOptions{})
	_, err = r.Get(base.MakeSearchKey([]byte("any")), BlockReadOptions{})
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	r.Close()
}

func TestWriterRejectsUnsortedKeys(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("unsorted.ldb")
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindSet), nil))
	require.Error(t, w.Add(base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindSet), nil))
	f.Close()
}
