// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"io"
	"testing"

	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func TestDBFilename(t *testing.T) {
	testCases := []struct {
		ft   fileType
		num  uint64
		want string
	}{
		{fileTypeLog, 7, "db/000007.log"},
		{fileTypeLock, 0, "db/LOCK"},
		{fileTypeTable, 123, "db/000123.ldb"},
		{fileTypeOldFashionedTable, 123, "db/000123.sst"},
		{fileTypeManifest, 5, "db/MANIFEST-000005"},
		{fileTypeCurrent, 0, "db/CURRENT"},
		{fileTypeInfoLog, 0, "db/LOG"},
		{fileTypeOldInfoLog, 0, "db/LOG.old"},
		{fileTypeTable, 1234567, "db/1234567.ldb"},
	}
	for _, tc := range testCases {
		got := dbFilename("db", tc.ft, base.FileNum(tc.num))
		require.Equal(t, tc.want, got)
	}
}

func TestParseDBFilename(t *testing.T) {
	for _, ft := range []fileType{fileTypeLog, fileTypeTable, fileTypeOldFashionedTable, fileTypeManifest} {
		for _, num := range []uint64{0, 1, 99, 1000000} {
			name := dbFilename("", ft, base.FileNum(num))
			gotFT, gotNum, ok := parseDBFilename(name)
			require.True(t, ok, "name %q", name)
			require.Equal(t, ft, gotFT)
			require.EqualValues(t, num, gotNum)
		}
	}

	bad := []string{
		"",
		"foo",
		"foo-dx-100.log",
		".log",
		"",
		"manifest",
		"MANIFEST",
		"MANIFEST-",
		"MANIFEST-x",
		"XMANIFEST-000001",
		"000001.logx",
		"000001.ldbx",
		// Parsing is case-sensitive.
		"000001.LOG",
		"current",
	}
	for _, name := range bad {
		_, _, ok := parseDBFilename(name)
		require.False(t, ok, "name %q", name)
	}
}

func TestSetCurrentFile(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("db", 0755))
	require.NoError(t, setCurrentFile("db", fs, 42))

	f, err := fs.Open("db/CURRENT")
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "MANIFEST-000042\n", string(b))

	// The temporary file used for the atomic swap is gone.
	ls, err := fs.List("db")
	require.NoError(t, err)
	require.Len(t, ls, 1)
}
