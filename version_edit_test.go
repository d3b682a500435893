// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

// parseVersionEdit builds a versionEdit from "field=value" lines.
func parseVersionEdit(t *testing.T, input string) *versionEdit {
	ve := &versionEdit{}
	for _, line := range strings.Split(strings.TrimSpace(input), "\n") {
		field, value, ok := strings.Cut(line, "=")
		require.True(t, ok, "malformed line %q", line)
		switch field {
		case "comparator":
			ve.comparatorName = value
		case "log-number":
			n, err := strconv.ParseUint(value, 10, 64)
			require.NoError(t, err)
			ve.logNumber = base.FileNum(n)
		case "prev-log-number":
			n, err := strconv.ParseUint(value, 10, 64)
			require.NoError(t, err)
			ve.prevLogNumber = base.FileNum(n)
		case "next-file-number":
			n, err := strconv.ParseUint(value, 10, 64)
			require.NoError(t, err)
			ve.nextFileNumber = base.FileNum(n)
		case "last-sequence":
			n, err := strconv.ParseUint(value, 10, 64)
			require.NoError(t, err)
			ve.lastSequence = base.SeqNum(n)
		case "compact-pointer":
			level, key, ok := strings.Cut(value, ":")
			require.True(t, ok)
			l, err := strconv.Atoi(level)
			require.NoError(t, err)
			ik := base.MakeInternalKey([]byte(key), 1, base.InternalKeyKindSet)
			buf := make([]byte, ik.Size())
			ik.Encode(buf)
			ve.compactPointers = append(ve.compactPointers, compactPointerEntry{l, buf})
		case "deleted-file":
			level, num, ok := strings.Cut(value, ":")
			require.True(t, ok)
			l, err := strconv.Atoi(level)
			require.NoError(t, err)
			n, err := strconv.ParseUint(num, 10, 64)
			require.NoError(t, err)
			if ve.deletedFiles == nil {
				ve.deletedFiles = make(map[deletedFileEntry]bool)
			}
			ve.deletedFiles[deletedFileEntry{l, base.FileNum(n)}] = true
		case "new-file":
			parts := strings.Split(value, ":")
			require.Len(t, parts, 5)
			l, err := strconv.Atoi(parts[0])
			require.NoError(t, err)
			n, err := strconv.ParseUint(parts[1], 10, 64)
			require.NoError(t, err)
			size, err := strconv.ParseUint(parts[2], 10, 64)
			require.NoError(t, err)
			ve.newFiles = append(ve.newFiles, newFileEntry{
				level: l,
				meta: &fileMetadata{
					fileNum:  base.FileNum(n),
					size:     size,
					smallest: base.MakeInternalKey([]byte(parts[3]), 1, base.InternalKeyKindSet),
					largest:  base.MakeInternalKey([]byte(parts[4]), 2, base.InternalKeyKindSet),
				},
			})
		default:
			t.Fatalf("unknown field %q", field)
		}
	}
	return ve
}

func TestVersionEditRoundTrip(t *testing.T) {
	datadriven.RunTest(t, "testdata/version_edit", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "encode-decode":
			ve := parseVersionEdit(t, d.Input)

			var buf bytes.Buffer
			require.NoError(t, ve.encode(&buf))
			encoded := append([]byte(nil), buf.Bytes()...)

			var decoded versionEdit
			require.NoError(t, decoded.decode(bytes.NewReader(encoded)))

			var buf2 bytes.Buffer
			require.NoError(t, decoded.encode(&buf2))
			if !bytes.Equal(encoded, buf2.Bytes()) {
				return "re-encoded bytes differ"
			}

			var out strings.Builder
			fmt.Fprintf(&out, "comparator=%q log=%d prev=%d next=%d seq=%d pointers=%d deleted=%d new=%d",
				decoded.comparatorName, decoded.logNumber, decoded.prevLogNumber,
				decoded.nextFileNumber, decoded.lastSequence,
				len(decoded.compactPointers), len(decoded.deletedFiles), len(decoded.newFiles))
			return out.String()

		default:
			t.Fatalf("unknown command %q", d.Cmd)
			return ""
		}
	})
}

func TestVersionEditDecodeRejectsUnknownTag(t *testing.T) {
	// Tag 8 is unused; a record containing it is corrupt.
	var decoded versionEdit
	err := decoded.decode(bytes.NewReader([]byte{8, 0}))
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
}

func TestBulkVersionEditApply(t *testing.T) {
	icmp := internalKeyComparer{base.DefaultComparer}
	mk := func(num uint64, smallest, largest string) *fileMetadata {
		return &fileMetadata{
			fileNum:  base.FileNum(num),
			size:     100,
			smallest: base.MakeInternalKey([]byte(smallest), 2, base.InternalKeyKindSet),
			largest:  base.MakeInternalKey([]byte(largest), 1, base.InternalKeyKindSet),
		}
	}

	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 0, meta: mk(2, "a", "m")},
			{level: 0, meta: mk(3, "k", "z")},
			{level: 1, meta: mk(4, "a", "f")},
			{level: 1, meta: mk(5, "g", "p")},
		},
	})
	v1, err := bve.apply(nil, icmp)
	require.NoError(t, err)
	require.Len(t, v1.files[0], 2)
	require.Len(t, v1.files[1], 2)

	// Delete one file and add another in a second edit.
	var bve2 bulkVersionEdit
	bve2.accumulate(&versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: 0, fileNum: 2}: true,
		},
		newFiles: []newFileEntry{
			{level: 1, meta: mk(6, "q", "z")},
		},
	})
	v2, err := bve2.apply(v1, icmp)
	require.NoError(t, err)
	require.Len(t, v2.files[0], 1)
	require.EqualValues(t, 3, v2.files[0][0].fileNum)
	require.Len(t, v2.files[1], 3)

	// The original version is unchanged.
	require.Len(t, v1.files[0], 2)
}

func TestBulkVersionEditApplyRejectsOverlap(t *testing.T) {
	icmp := internalKeyComparer{base.DefaultComparer}
	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 1, meta: &fileMetadata{
				fileNum:  1,
				smallest: base.MakeInternalKey([]byte("a"), 2, base.InternalKeyKindSet),
				largest:  base.MakeInternalKey([]byte("m"), 1, base.InternalKeyKindSet),
			}},
			{level: 1, meta: &fileMetadata{
				fileNum:  2,
				smallest: base.MakeInternalKey([]byte("f"), 4, base.InternalKeyKindSet),
				largest:  base.MakeInternalKey([]byte("z"), 3, base.InternalKeyKindSet),
			}},
		},
	})
	_, err := bve.apply(nil, icmp)
	require.Error(t, err)
}
