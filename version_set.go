// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/record"
	"github.com/cockroachdb/shale/vfs"
)

// strictDropper records the first corruption surfaced by a record reader,
// for callers that must treat any dropped data as fatal.
type strictDropper struct {
	err error
}

func (d *strictDropper) Drop(err error, n int) {
	if d.err == nil {
		d.err = err
	}
}

// versionSet manages a collection of immutable versions, and manages the
// creation of a new version from the most recent version. A new version is
// created from an existing version by applying a version edit which is just
// like it sounds: a delta from the previous version. Version edits are
// logged to the manifest file, which is replayed at startup.
type versionSet struct {
	// Immutable fields.
	dirname string
	opts    *Options
	fs      vfs.FS
	icmp    internalKeyComparer

	// dummyVersion is the anchor of the circular doubly-linked list of
	// versions. dummyVersion.prev is the current version. Protected by the
	// DB mutex.
	dummyVersion version

	// logNumber is the WAL file number for the active memtable;
	// prevLogNumber is maintained for backwards compatibility with databases
	// written by older versions and is zero in any database written by this
	// one.
	logNumber     base.FileNum
	prevLogNumber base.FileNum

	// nextFileNum is the next file number to allocate. A single counter is
	// used to assign file numbers for the WAL, MANIFEST and table files.
	nextFileNum base.FileNum

	// lastSequence is the upper bound on assigned sequence numbers.
	// Protected by the DB mutex.
	lastSequence base.SeqNum

	// compactPointers hold, per level, the encoded internal key at which the
	// next size compaction at that level should begin. Compactions round-
	// robin through the key space of each level.
	compactPointers [numLevels][]byte

	// manifestFileNumber is the file number of the open manifest.
	manifestFileNumber base.FileNum

	manifestFile vfs.File
	manifest     *record.Writer
}

func (vs *versionSet) init(dirname string, opts *Options) {
	vs.dirname = dirname
	vs.opts = opts
	vs.fs = opts.FS
	vs.icmp = internalKeyComparer{opts.Comparer}
	vs.dummyVersion.prev = &vs.dummyVersion
	vs.dummyVersion.next = &vs.dummyVersion
	vs.nextFileNum = 2
}

// load loads the version set from the manifest file named by CURRENT.
func (vs *versionSet) load(dirname string, opts *Options) error {
	vs.init(dirname, opts)

	// Read the CURRENT file to find the current manifest file.
	current, err := vs.fs.Open(dbFilename(dirname, fileTypeCurrent, 0))
	if err != nil {
		return errors.Wrapf(err, "shale: could not open CURRENT file for DB %q", dirname)
	}
	defer current.Close()
	stat, err := current.Stat()
	if err != nil {
		return err
	}
	n := stat.Size()
	if n == 0 {
		return base.CorruptionErrorf("shale: CURRENT file for DB %q is empty", dirname)
	}
	if n > 4096 {
		return base.CorruptionErrorf("shale: CURRENT file for DB %q is too large", dirname)
	}
	b := make([]byte, n)
	if _, err := current.ReadAt(b, 0); err != nil {
		return err
	}
	if b[n-1] != '\n' {
		return base.CorruptionErrorf("shale: CURRENT file for DB %q is malformed", dirname)
	}
	b = b[:n-1]

	ft, manifestNum, ok := parseDBFilename(string(b))
	if !ok || ft != fileTypeManifest {
		return base.CorruptionErrorf("shale: MANIFEST name %q is malformed", b)
	}
	vs.manifestFileNumber = manifestNum

	// Read the versionEdits in the manifest file.
	var bve bulkVersionEdit
	manifest, err := vs.fs.Open(dbFilename(dirname, fileTypeManifest, manifestNum))
	if err != nil {
		return errors.Wrapf(err, "shale: could not open manifest file for DB %q", dirname)
	}
	defer manifest.Close()
	// Any data dropped by the record reader means a damaged manifest, which
	// is fatal at open: the resulting version would be indeterminate.
	var dropped strictDropper
	rr := record.NewReader(manifest, &dropped)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var ve versionEdit
		if err := ve.decode(r); err != nil {
			return err
		}
		if ve.comparatorName != "" {
			if ve.comparatorName != vs.icmp.ucmp.Name {
				return errors.Errorf(
					"shale: comparer name from manifest %q != comparer name from Options %q",
					errors.Safe(ve.comparatorName), errors.Safe(vs.icmp.ucmp.Name))
			}
		}
		bve.accumulate(&ve)
		if ve.logNumber != 0 {
			vs.logNumber = ve.logNumber
		}
		if ve.prevLogNumber != 0 {
			vs.prevLogNumber = ve.prevLogNumber
		}
		if ve.nextFileNumber != 0 {
			vs.nextFileNum = ve.nextFileNumber
		}
		if ve.lastSequence != 0 {
			vs.lastSequence = ve.lastSequence
		}
		for _, cp := range ve.compactPointers {
			vs.compactPointers[cp.level] = cp.key
		}
	}

	if dropped.err != nil {
		return errors.Wrapf(dropped.err, "shale: corrupt manifest for DB %q", dirname)
	}

	newVersion, err := bve.apply(nil, vs.icmp)
	if err != nil {
		return err
	}
	for _, ff := range newVersion.files {
		for _, f := range ff {
			f.initAllowedSeeks()
		}
	}
	vs.append(newVersion)
	vs.markFileNumUsed(vs.logNumber)
	vs.markFileNumUsed(vs.prevLogNumber)
	vs.markFileNumUsed(vs.manifestFileNumber)
	return nil
}

// close closes the open manifest.
func (vs *versionSet) close() error {
	if vs.manifestFile != nil {
		if err := vs.manifestFile.Close(); err != nil {
			return err
		}
		vs.manifestFile = nil
	}
	return nil
}

// logAndApply logs the version edit to the manifest, applies it to the
// current version, and installs the new version.
//
// The DB mutex must be held when calling this method; it is released
// temporarily while performing file I/O. Only a single caller may be in
// logAndApply at a time: the database's single background task, or Open
// before background work is scheduled.
func (vs *versionSet) logAndApply(d *DB, ve *versionEdit) error {
	if ve.logNumber != 0 {
		if ve.logNumber < vs.logNumber || vs.nextFileNum <= ve.logNumber {
			panic("shale: inconsistent versionEdit logNumber")
		}
	}
	ve.nextFileNumber = vs.nextFileNum
	ve.lastSequence = vs.lastSequence
	currentVersion := vs.currentVersion()

	// Generate a new manifest if we don't currently have one, or the current
	// one is too large.
	var newManifestFileNumber base.FileNum
	if vs.manifest == nil || vs.manifest.Size() >= vs.opts.MaxManifestFileSize {
		newManifestFileNumber = vs.nextFileNumLocked()
	}

	var bve bulkVersionEdit
	bve.accumulate(ve)

	var newVersion *version
	if err := func() error {
		// Release the DB mutex while doing I/O. Note the unusual order:
		// Unlock and then Lock.
		d.mu.Unlock()
		defer d.mu.Lock()

		var err error
		newVersion, err = bve.apply(currentVersion, vs.icmp)
		if err != nil {
			return err
		}

		if newManifestFileNumber != 0 {
			if err := vs.createManifest(newManifestFileNumber); err != nil {
				return err
			}
		}

		w, err := vs.manifest.Next()
		if err != nil {
			return err
		}
		if err := ve.encode(w); err != nil {
			return err
		}
		if err := vs.manifest.Flush(); err != nil {
			return err
		}
		if err := vs.manifestFile.Sync(); err != nil {
			return err
		}
		if newManifestFileNumber != 0 {
			if err := setCurrentFile(vs.dirname, vs.fs, newManifestFileNumber); err != nil {
				return err
			}
		}
		return nil
	}(); err != nil {
		return err
	}

	// Install the new version. A trivial move reuses live file metadata, so
	// the seek budget reset must happen with the mutex held.
	for _, nf := range ve.newFiles {
		nf.meta.initAllowedSeeks()
	}
	vs.append(newVersion)
	if ve.logNumber != 0 {
		vs.logNumber = ve.logNumber
	}
	if ve.prevLogNumber != 0 {
		vs.prevLogNumber = ve.prevLogNumber
	}
	for _, cp := range ve.compactPointers {
		vs.compactPointers[cp.level] = cp.key
	}
	if newManifestFileNumber != 0 {
		vs.manifestFileNumber = newManifestFileNumber
	}
	return nil
}

// createManifest creates a manifest file that contains a snapshot of vs.
func (vs *versionSet) createManifest(fileNum base.FileNum) (err error) {
	var (
		filename     = dbFilename(vs.dirname, fileTypeManifest, fileNum)
		manifestFile vfs.File
		manifest     *record.Writer
	)
	defer func() {
		if manifest != nil {
			manifest.Close()
		}
		if manifestFile != nil {
			manifestFile.Close()
		}
		if err != nil {
			vs.fs.Remove(filename)
		}
	}()
	manifestFile, err = vs.fs.Create(filename)
	if err != nil {
		return err
	}
	manifest = record.NewWriter(manifestFile)

	snapshot := versionEdit{
		comparatorName: vs.icmp.ucmp.Name,
	}
	for level, fileMetadata := range vs.currentVersion().files {
		for _, meta := range fileMetadata {
			snapshot.newFiles = append(snapshot.newFiles, newFileEntry{
				level: level,
				meta:  meta,
			})
		}
		if cp := vs.compactPointers[level]; cp != nil {
			snapshot.compactPointers = append(snapshot.compactPointers, compactPointerEntry{
				level: level,
				key:   cp,
			})
		}
	}

	w, err := manifest.Next()
	if err != nil {
		return err
	}
	if err := snapshot.encode(w); err != nil {
		return err
	}

	if vs.manifest != nil {
		vs.manifest.Close()
		vs.manifest = nil
	}
	if vs.manifestFile != nil {
		vs.manifestFile.Close()
		vs.manifestFile = nil
	}

	vs.manifest, manifest = manifest, nil
	vs.manifestFile, manifestFile = manifestFile, nil
	return nil
}

// markFileNumUsed ensures that the given file number will not be reused.
func (vs *versionSet) markFileNumUsed(fileNum base.FileNum) {
	if vs.nextFileNum <= fileNum {
		vs.nextFileNum = fileNum + 1
	}
}

// nextFileNumLocked allocates and returns a fresh file number.
//
// The DB mutex must be held.
func (vs *versionSet) nextFileNumLocked() base.FileNum {
	x := vs.nextFileNum
	vs.nextFileNum++
	return x
}

// append installs v as the current version.
//
// The DB mutex must be held.
func (vs *versionSet) append(v *version) {
	if v.refs != 0 {
		panic("shale: version should be unreferenced")
	}
	// Drop the version set's reference on the previous current version.
	if old := vs.currentVersion(); old != &vs.dummyVersion {
		old.unref()
	}
	v.prev = vs.dummyVersion.prev
	v.next = &vs.dummyVersion
	v.prev.next = v
	v.next.prev = v
	v.ref()
}

// currentVersion returns the current version, or the dummy version for an
// uninitialized version set.
//
// The DB mutex must be held.
func (vs *versionSet) currentVersion() *version {
	return vs.dummyVersion.prev
}

// addLiveFileNums adds the file numbers referenced by any live version to
// the given map.
//
// The DB mutex must be held.
func (vs *versionSet) addLiveFileNums(m map[base.FileNum]struct{}) {
	for v := vs.dummyVersion.next; v != &vs.dummyVersion; v = v.next {
		for _, ff := range v.files {
			for _, f := range ff {
				m[f.fileNum] = struct{}{}
			}
		}
	}
}
