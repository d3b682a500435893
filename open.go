// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"bytes"
	"io"
	"log"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/memtable"
	"github.com/cockroachdb/shale/record"
	"github.com/cockroachdb/shale/vfs"
)

// createDB creates the on-disk state for a fresh database: a manifest
// holding a single version edit, and a CURRENT file pointing at it. The
// manifest consumes file number 1.
func createDB(dirname string, opts *Options) (retErr error) {
	const manifestFileNum = 1
	ve := versionEdit{
		comparatorName: opts.Comparer.Name,
		nextFileNumber: manifestFileNum + 1,
	}
	manifestFilename := dbFilename(dirname, fileTypeManifest, manifestFileNum)
	f, err := opts.FS.Create(manifestFilename)
	if err != nil {
		return errors.Wrapf(err, "shale: could not create %q", manifestFilename)
	}
	defer func() {
		if retErr != nil {
			opts.FS.Remove(manifestFilename)
		}
	}()
	defer f.Close()

	recWriter := record.NewWriter(f)
	w, err := recWriter.Next()
	if err != nil {
		return err
	}
	if err := ve.encode(w); err != nil {
		return err
	}
	if err := recWriter.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return setCurrentFile(dirname, opts.FS, manifestFileNum)
}

// fileLogger writes the info log to a file in the database directory.
type fileLogger struct {
	l *log.Logger
}

func (f fileLogger) Infof(format string, args ...interface{}) {
	f.l.Printf(format, args...)
}

func (f fileLogger) Fatalf(format string, args ...interface{}) {
	f.l.Printf(format, args...)
	os.Exit(1)
}

type fileNumAndName struct {
	num  base.FileNum
	name string
}

// walDropper reports data dropped during WAL replay. Under paranoid checks
// the first drop is recorded and fails the recovery; otherwise drops are
// logged and replay continues past them.
type walDropper struct {
	logger   Logger
	filename string
	paranoid bool
	err      error
}

func (d *walDropper) Drop(err error, n int) {
	d.logger.Infof("%s: dropping %d bytes: %v", d.filename, n, err)
	if d.paranoid && d.err == nil {
		d.err = err
	}
}

// Open opens a DB whose files live in the given directory.
func Open(dirname string, opts *Options) (db *DB, retErr error) {
	if opts == nil {
		opts = &Options{}
	} else {
		o := *opts
		opts = &o
	}
	opts = opts.EnsureDefaults()

	d := &DB{
		dirname: dirname,
		opts:    opts,
		icmp:    internalKeyComparer{opts.Comparer},
	}
	fs := opts.FS

	if err := fs.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}

	// Rotate the info log and open a fresh one, unless the caller supplied a
	// logger.
	var infoLogFile vfs.File
	defer func() {
		if retErr != nil && infoLogFile != nil {
			infoLogFile.Close()
		}
	}()
	if opts.Logger == nil {
		fs.Rename(dbFilename(dirname, fileTypeInfoLog, 0), dbFilename(dirname, fileTypeOldInfoLog, 0))
		f, err := fs.Create(dbFilename(dirname, fileTypeInfoLog, 0))
		if err != nil {
			return nil, err
		}
		infoLogFile = f
		opts.Logger = fileLogger{log.New(f, "", log.LstdFlags)}
	}

	tableCacheSize := opts.MaxOpenFiles - numNonTableCacheFiles
	if tableCacheSize < minTableCacheSize {
		tableCacheSize = minTableCacheSize
	}
	d.tableCache.init(dirname, opts, tableCacheSize)
	d.infoLog = infoLogFile
	d.mu.mem = memtable.New(opts.Comparer.Compare)
	d.mu.compact.cond.L = &d.mu
	d.mu.pendingOutputs = make(map[base.FileNum]struct{})
	d.mu.snapshots.init()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Lock the database directory.
	fileLock, err := fs.Lock(dbFilename(dirname, fileTypeLock, 0))
	if err != nil {
		return nil, err
	}
	defer func() {
		if fileLock != nil {
			fileLock.Close()
		}
	}()

	if _, err := fs.Stat(dbFilename(dirname, fileTypeCurrent, 0)); oserror.IsNotExist(err) {
		if !opts.CreateIfMissing {
			return nil, errors.Errorf("shale: database %q does not exist", dirname)
		}
		if opts.ReadOnly {
			return nil, errors.Errorf("shale: database %q does not exist", dirname)
		}
		if err := createDB(dirname, opts); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "shale: database %q", dirname)
	} else if opts.ErrorIfExists {
		return nil, errors.Errorf("shale: database %q already exists", dirname)
	}

	// Load the version set.
	if err := d.mu.versions.load(dirname, opts); err != nil {
		return nil, err
	}

	// Replay any newer log files than the ones named in the manifest.
	var ve versionEdit
	ls, err := fs.List(dirname)
	if err != nil {
		return nil, err
	}
	var logFiles []fileNumAndName
	for _, filename := range ls {
		ft, fn, ok := parseDBFilename(filename)
		if ok && ft == fileTypeLog &&
			(fn >= d.mu.versions.logNumber || fn == d.mu.versions.prevLogNumber) {
			logFiles = append(logFiles, fileNumAndName{fn, filename})
		}
	}
	sort.Slice(logFiles, func(i, j int) bool { return logFiles[i].num < logFiles[j].num })
	for _, lf := range logFiles {
		maxSeqNum, err := d.replayLogFile(&ve, lf.num)
		if err != nil {
			return nil, err
		}
		d.mu.versions.markFileNumUsed(lf.num)
		if d.mu.versions.lastSequence < maxSeqNum {
			d.mu.versions.lastSequence = maxSeqNum
		}
	}

	if opts.ReadOnly {
		d.fileLock, fileLock = fileLock, nil
		return d, nil
	}

	// Create an empty WAL file for the new memtable generation.
	logNumber := d.mu.versions.nextFileNumLocked()
	logFile, err := fs.Create(dbFilename(dirname, fileTypeLog, logNumber))
	if err != nil {
		return nil, err
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()
	d.mu.log.number = logNumber
	d.mu.log.Writer = record.NewWriter(logFile)
	ve.logNumber = logNumber

	// Write the consolidating version edit (any tables flushed during
	// replay, plus the new log number) and swing CURRENT at a fresh
	// manifest.
	if err := d.mu.versions.logAndApply(d, &ve); err != nil {
		return nil, err
	}

	d.deleteObsoleteFiles()
	d.maybeScheduleCompaction()

	d.mu.log.file, logFile = logFile, nil
	d.fileLock, fileLock = fileLock, nil
	return d, nil
}

// replayLogFile replays the batches in the numbered log file into a fresh
// memtable, flushing to a level-0 table whenever the memtable exceeds the
// write buffer. New files are appended to ve.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) replayLogFile(ve *versionEdit, fileNum base.FileNum) (maxSeqNum base.SeqNum, err error) {
	filename := dbFilename(d.dirname, fileTypeLog, fileNum)
	file, err := d.opts.FS.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	flushMem := func(mem *memtable.MemTable) error {
		if mem == nil || mem.Empty() {
			return nil
		}
		meta, err := d.writeLevel0Table(d.opts.FS, mem)
		if err != nil {
			return err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
		// Strictly speaking, it's too early to delete meta.fileNum from
		// d.mu.pendingOutputs, but replay happens before Open returns, so
		// there is no possibility of deleteObsoleteFiles being called
		// concurrently here.
		delete(d.mu.pendingOutputs, meta.fileNum)
		return nil
	}

	var (
		mem      *memtable.MemTable
		batchBuf = new(bytes.Buffer)
		dropper  = &walDropper{
			logger:   d.opts.Logger,
			filename: filename,
			paranoid: d.opts.ParanoidChecks,
		}
		rr = record.NewReader(file, dropper)
	)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if record.IsInvalidRecord(err) {
			// The tail of the log was torn mid-record; everything up to the
			// damage has already been applied whole.
			break
		}
		if err != nil {
			return 0, err
		}
		batchBuf.Reset()
		if _, err := io.Copy(batchBuf, r); err != nil {
			if record.IsInvalidRecord(err) {
				dropper.Drop(err, batchBuf.Len())
				rr.Recover()
				continue
			}
			return 0, err
		}

		if batchBuf.Len() < batchHeaderLen {
			return 0, base.CorruptionErrorf("shale: corrupt log file %q", filename)
		}
		var b Batch
		if err := b.SetRepr(append([]byte(nil), batchBuf.Bytes()...)); err != nil {
			return 0, err
		}
		seqNum := b.SeqNum()
		seqNum1 := seqNum + base.SeqNum(b.Count())
		if maxSeqNum < seqNum1-1 {
			maxSeqNum = seqNum1 - 1
		}

		if mem == nil {
			if d.opts.ReadOnly {
				// Read-only mode replays into the live memtable, which is
				// never flushed.
				mem = d.mu.mem
			} else {
				mem = memtable.New(d.opts.Comparer.Compare)
			}
		}
		if err := replayBatch(mem, &b); err != nil {
			return 0, errors.Wrapf(err, "shale: corrupt log file %q", filename)
		}

		if !d.opts.ReadOnly && mem.ApproximateMemoryUsage() > d.opts.WriteBufferSize {
			if err := flushMem(mem); err != nil {
				return 0, err
			}
			mem = nil
		}
	}
	if dropper.err != nil {
		return 0, dropper.err
	}

	if !d.opts.ReadOnly {
		if err := flushMem(mem); err != nil {
			return 0, err
		}
	}
	return maxSeqNum, nil
}
