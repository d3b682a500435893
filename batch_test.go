// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"testing"

	"github.com/cockroachdb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

type batchOp struct {
	kind  base.InternalKeyKind
	key   string
	value string
}

func readAll(t *testing.T, b *Batch) []batchOp {
	var ops []batchOp
	for r := b.iter(); ; {
		kind, ukey, value, ok := r.next()
		if !ok {
			break
		}
		ops = append(ops, batchOp{kind, string(ukey), string(value)})
	}
	return ops
}

func TestBatchBasic(t *testing.T) {
	var b Batch
	require.True(t, b.Empty())
	require.Zero(t, b.Count())

	b.Set([]byte("roses"), []byte("red"))
	b.Set([]byte("violets"), []byte("blue"))
	b.Delete([]byte("roses"))

	require.False(t, b.Empty())
	require.EqualValues(t, 3, b.Count())
	require.Zero(t, b.SeqNum())

	want := []batchOp{
		{base.InternalKeyKindSet, "roses", "red"},
		{base.InternalKeyKindSet, "violets", "blue"},
		{base.InternalKeyKindDelete, "roses", ""},
	}
	require.Equal(t, want, readAll(t, &b))
}

func TestBatchReprRoundTrip(t *testing.T) {
	var b Batch
	b.Set([]byte("k1"), []byte("v1"))
	b.Delete([]byte("k2"))
	b.setSeqNum(42)

	var b2 Batch
	require.NoError(t, b2.SetRepr(b.Repr()))
	require.EqualValues(t, 2, b2.Count())
	require.EqualValues(t, 42, b2.SeqNum())
	require.Equal(t, readAll(t, &b), readAll(t, &b2))
}

func TestBatchApplyConcatenates(t *testing.T) {
	var b1, b2 Batch
	b1.Set([]byte("a"), []byte("1"))
	b2.Set([]byte("b"), []byte("2"))
	b2.Delete([]byte("c"))

	require.NoError(t, b1.Apply(&b2))
	require.EqualValues(t, 3, b1.Count())
	want := []batchOp{
		{base.InternalKeyKindSet, "a", "1"},
		{base.InternalKeyKindSet, "b", "2"},
		{base.InternalKeyKindDelete, "c", ""},
	}
	require.Equal(t, want, readAll(t, &b1))

	// Applying to an empty batch adopts the argument's operations.
	var b3 Batch
	require.NoError(t, b3.Apply(&b2))
	require.EqualValues(t, 2, b3.Count())
}

func TestBatchReset(t *testing.T) {
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.setSeqNum(7)
	b.Reset()
	require.True(t, b.Empty())
	require.Zero(t, b.Count())
	require.Zero(t, b.SeqNum())
}

func TestBatchEmptyValueDistinctFromDelete(t *testing.T) {
	var b Batch
	b.Set([]byte("k"), nil)
	ops := readAll(t, &b)
	require.Len(t, ops, 1)
	require.Equal(t, base.InternalKeyKindSet, ops[0].kind)
}

func TestBatchCorruptRepr(t *testing.T) {
	var b Batch
	require.Error(t, b.SetRepr([]byte("short")))

	// A truncated record surfaces as a failed iteration.
	var ok Batch
	ok.Set([]byte("key"), []byte("value"))
	repr := append([]byte(nil), ok.Repr()...)
	var truncated Batch
	require.NoError(t, truncated.SetRepr(repr[:len(repr)-3]))
	r := truncated.iter()
	_, _, _, valid := r.next()
	require.False(t, valid)
}
