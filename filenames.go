// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/vfs"
)

type fileType int

const (
	fileTypeLog fileType = iota
	fileTypeLock
	fileTypeTable
	fileTypeOldFashionedTable
	fileTypeManifest
	fileTypeCurrent
	fileTypeInfoLog
	fileTypeOldInfoLog
)

// dbFilename returns the filename for files of the given type and number
// within the database directory. Numbers are zero-padded decimal; parsing is
// case-sensitive.
func dbFilename(dirname string, fileType fileType, fileNum base.FileNum) string {
	for len(dirname) > 0 && dirname[len(dirname)-1] == os.PathSeparator {
		dirname = dirname[:len(dirname)-1]
	}
	switch fileType {
	case fileTypeLog:
		return fmt.Sprintf("%s%c%s.log", dirname, os.PathSeparator, fileNum)
	case fileTypeLock:
		return fmt.Sprintf("%s%cLOCK", dirname, os.PathSeparator)
	case fileTypeTable:
		return fmt.Sprintf("%s%c%s.ldb", dirname, os.PathSeparator, fileNum)
	case fileTypeOldFashionedTable:
		return fmt.Sprintf("%s%c%s.sst", dirname, os.PathSeparator, fileNum)
	case fileTypeManifest:
		return fmt.Sprintf("%s%cMANIFEST-%s", dirname, os.PathSeparator, fileNum)
	case fileTypeCurrent:
		return fmt.Sprintf("%s%cCURRENT", dirname, os.PathSeparator)
	case fileTypeInfoLog:
		return fmt.Sprintf("%s%cLOG", dirname, os.PathSeparator)
	case fileTypeOldInfoLog:
		return fmt.Sprintf("%s%cLOG.old", dirname, os.PathSeparator)
	}
	panic("unreachable")
}

// parseDBFilename is the inverse of dbFilename, classifying a name from a
// directory listing.
func parseDBFilename(filename string) (fileType fileType, fileNum base.FileNum, ok bool) {
	filename = filepath.Base(filename)
	switch {
	case filename == "CURRENT":
		return fileTypeCurrent, 0, true
	case filename == "LOCK":
		return fileTypeLock, 0, true
	case filename == "LOG":
		return fileTypeInfoLog, 0, true
	case filename == "LOG.old":
		return fileTypeOldInfoLog, 0, true
	case strings.HasPrefix(filename, "MANIFEST-"):
		u, err := strconv.ParseUint(filename[len("MANIFEST-"):], 10, 64)
		if err != nil {
			break
		}
		return fileTypeManifest, base.FileNum(u), true
	default:
		i := strings.IndexByte(filename, '.')
		if i < 0 {
			break
		}
		u, err := strconv.ParseUint(filename[:i], 10, 64)
		if err != nil {
			break
		}
		switch filename[i+1:] {
		case "ldb":
			return fileTypeTable, base.FileNum(u), true
		case "log":
			return fileTypeLog, base.FileNum(u), true
		case "sst":
			return fileTypeOldFashionedTable, base.FileNum(u), true
		}
	}
	return 0, 0, false
}

// setCurrentFile points the CURRENT file at the given manifest. The commit
// point is the rename of a fully written temporary file onto CURRENT.
func setCurrentFile(dirname string, fs vfs.FS, fileNum base.FileNum) error {
	newFilename := dbFilename(dirname, fileTypeCurrent, fileNum)
	oldFilename := fmt.Sprintf("%s.%s.dbtmp", newFilename, fileNum)
	fs.Remove(oldFilename)
	f, err := fs.Create(oldFilename)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "MANIFEST-%s\n", fileNum); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(oldFilename, newFilename)
}
