// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"sync"

	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/sstable"
)

// tableCache holds a bounded set of open sstable readers, evicting the least
// recently used reader when the bound is exceeded. Nodes are refcounted:
// eviction closes the underlying reader only after every iterator holding it
// has been closed.
type tableCache struct {
	dirname string
	opts    *Options
	size    int
	// id is the block cache partition for this database's tables.
	id uint64

	mu    sync.Mutex
	nodes map[base.FileNum]*tableCacheNode
	dummy tableCacheNode
}

func (c *tableCache) init(dirname string, opts *Options, size int) {
	c.dirname = dirname
	c.opts = opts
	c.size = size
	c.id = opts.BlockCache.NewID()
	c.nodes = make(map[base.FileNum]*tableCacheNode)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
}

// withReader invokes f with the reader for the given table, opening the
// table if necessary.
func (c *tableCache) withReader(fileNum base.FileNum, f func(*sstable.Reader) error) error {
	// Calling findNode gives us the responsibility of decrementing n's
	// refCount.
	n := c.findNode(fileNum)
	x := <-n.result
	n.result <- x
	if x.err != nil {
		c.mu.Lock()
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
		c.mu.Unlock()
		return x.err
	}
	defer func() {
		c.mu.Lock()
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
		c.mu.Unlock()
	}()
	return f(x.reader)
}

// get looks up the internal key in the given table. It returns the matching
// entry's value and whether the lookup was conclusive: inconclusive lookups
// continue to older tables. A matching deletion tombstone is conclusive and
// yields ErrNotFound.
func (c *tableCache) get(
	fileNum base.FileNum, ikey base.InternalKey, ro *ReadOptions,
) (value []byte, conclusive bool, err error) {
	err = c.withReader(fileNum, func(r *sstable.Reader) error {
		bro := ro.blockReadOptions()
		ok, err := r.MayContain(ikey, bro)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		i := r.NewIter(bro)
		defer i.Close()
		i.SeekGE(ikey)
		if !i.Valid() {
			return i.Error()
		}
		k := i.Key()
		if !k.Valid() {
			return base.CorruptionErrorf("shale: table %s: corrupt internal key", fileNum)
		}
		if c.opts.Comparer.Compare(ikey.UserKey, k.UserKey) != 0 {
			return i.Error()
		}
		conclusive = true
		if k.Kind() == base.InternalKeyKindDelete {
			return base.ErrNotFound
		}
		value = append([]byte(nil), i.Value()...)
		return i.Error()
	})
	return value, conclusive, err
}

// find returns an iterator over the table with the given file number. The
// iterator holds a reference on the cached reader, released when the
// iterator is closed.
func (c *tableCache) find(fileNum base.FileNum, ro *ReadOptions) (base.InternalIterator, error) {
	// Calling findNode gives us the responsibility of decrementing n's
	// refCount. If opening the underlying table resulted in error, then we
	// decrement this straight away. Otherwise, we pass that responsibility
	// to the tableCacheIter, which decrements when it is closed.
	n := c.findNode(fileNum)
	x := <-n.result
	n.result <- x
	if x.err != nil {
		c.mu.Lock()
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
		c.mu.Unlock()
		return nil, x.err
	}
	return &tableCacheIter{
		Iter:  x.reader.NewIter(ro.blockReadOptions()),
		cache: c,
		node:  n,
	}, nil
}

// releaseNode releases a node from the tableCache.
//
// c.mu must be held when calling this.
func (c *tableCache) releaseNode(n *tableCacheNode) {
	delete(c.nodes, n.fileNum)
	n.next.prev = n.prev
	n.prev.next = n.next
	n.refCount--
	if n.refCount == 0 {
		go n.release()
	}
}

// findNode returns the node for the table with the given file number,
// creating that node if it didn't already exist. The caller is responsible
// for decrementing the returned node's refCount.
func (c *tableCache) findNode(fileNum base.FileNum) *tableCacheNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.nodes[fileNum]
	if n == nil {
		n = &tableCacheNode{
			fileNum:  fileNum,
			refCount: 1,
			result:   make(chan tableReaderOrError, 1),
		}
		c.nodes[fileNum] = n
		if len(c.nodes) > c.size {
			// Release the tail node.
			c.releaseNode(c.dummy.prev)
		}
		go n.load(c)
	} else {
		// Remove n from the doubly-linked list.
		n.next.prev = n.prev
		n.prev.next = n.next
	}
	// Insert n at the front of the doubly-linked list.
	n.next = c.dummy.next
	n.prev = &c.dummy
	n.next.prev = n
	n.prev.next = n
	// The caller is responsible for decrementing the refCount.
	n.refCount++
	return n
}

// evict removes the entry for the given file, closing its reader once
// unreferenced. Called when a table file is deleted.
func (c *tableCache) evict(fileNum base.FileNum) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := c.nodes[fileNum]; n != nil {
		c.releaseNode(n)
	}
	c.opts.BlockCache.EvictFile(c.id, fileNum)
}

func (c *tableCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n := c.dummy.next; n != &c.dummy; n = n.next {
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
	}
	c.nodes = nil
	c.dummy.next = nil
	c.dummy.prev = nil
	return nil
}

type tableReaderOrError struct {
	reader *sstable.Reader
	err    error
}

type tableCacheNode struct {
	fileNum base.FileNum
	result  chan tableReaderOrError

	// The remaining fields are protected by the tableCache mutex.

	next, prev *tableCacheNode
	refCount   int
}

func (n *tableCacheNode) load(c *tableCache) {
	// Try opening the fileTypeTable first. If that file doesn't exist, fall
	// back onto the old-fashioned table name.
	fs := c.opts.FS
	f, err := fs.Open(dbFilename(c.dirname, fileTypeTable, n.fileNum))
	if oserror.IsNotExist(err) {
		f, err = fs.Open(dbFilename(c.dirname, fileTypeOldFashionedTable, n.fileNum))
	}
	if err != nil {
		n.result <- tableReaderOrError{err: err}
		return
	}
	r := sstable.NewReader(f, n.fileNum, c.id, c.opts.BlockCache, sstable.ReaderOptions{
		Comparer:        c.opts.Comparer,
		FilterPolicy:    c.opts.FilterPolicy,
		VerifyChecksums: c.opts.ParanoidChecks,
	})
	n.result <- tableReaderOrError{reader: r}
}

func (n *tableCacheNode) release() {
	x := <-n.result
	if x.err != nil {
		return
	}
	x.reader.Close()
}

// tableCacheIter wraps a table iterator, dropping the cached reader's
// reference when closed.
type tableCacheIter struct {
	*sstable.Iter
	cache    *tableCache
	node     *tableCacheNode
	closeErr error
	closed   bool
}

func (i *tableCacheIter) Close() error {
	if i.closed {
		return i.closeErr
	}
	i.closed = true

	i.cache.mu.Lock()
	i.node.refCount--
	if i.node.refCount == 0 {
		go i.node.release()
	}
	i.cache.mu.Unlock()

	i.closeErr = i.Iter.Close()
	return i.closeErr
}
