// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardResults(t *testing.T) {
	// From rfc3720 section B.4.
	buf := make([]byte, 32)
	require.EqualValues(t, 0x8a9136aa, New(buf).value())

	for i := range buf {
		buf[i] = 0xff
	}
	require.EqualValues(t, 0x62a8ab43, New(buf).value())

	for i := range buf {
		buf[i] = byte(i)
	}
	require.EqualValues(t, 0x46dd794e, New(buf).value())

	for i := range buf {
		buf[i] = byte(31 - i)
	}
	require.EqualValues(t, 0x113fdb5c, New(buf).value())

	data := [48]byte{
		0x01, 0xc0, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x14, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x04, 0x00,
		0x00, 0x00, 0x00, 0x14,
		0x00, 0x00, 0x00, 0x18,
		0x28, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	require.EqualValues(t, 0xd9963a56, New(data[:]).value())
}

// value returns the raw (unmasked) CRC, for comparison against the RFC
// vectors.
func (c CRC) value() uint32 {
	return uint32(c)
}

func TestValueMask(t *testing.T) {
	crc := New([]byte("foo")).Value()
	require.NotEqual(t, crc, uint32(New([]byte("foo"))))

	// Masking is invertible.
	unmasked := ((crc - 0xa282ead8) >> 17) | ((crc - 0xa282ead8) << 15)
	require.Equal(t, uint32(New([]byte("foo"))), unmasked)
}

func TestDifferentPrefixes(t *testing.T) {
	require.NotEqual(t, New([]byte("foo")).Value(), New([]byte("bar")).Value())
	require.Equal(t,
		New([]byte("hello world")).Value(),
		New([]byte("hello ")).Update([]byte("world")).Value())
}
