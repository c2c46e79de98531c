// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package cache keeps Stat, directory listings and extended attributes per
// path so that repeated lookups do not reach the metadata service.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/cubefs/cubefs/util/btree"

	"github.com/xtreemfs/xtreemfs-sub010/metrics"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

const btreeDegree = 32

type Config struct {
	// Size is the maximum number of cached paths, 0 disables the cache.
	Size int `json:"size" yaml:"size"`
	// TTLS is the lifetime of every cached value in seconds.
	TTLS int `json:"ttl_s" yaml:"ttl_s"`
}

// entry is the cached state of one path. Every value expires on its own;
// timeout is the expiry of the value written last and bounds the lifetime
// of the entry.
type entry struct {
	path string

	stat       *proto.Stat
	statExpire time.Time

	dirEntries []*proto.DirEntry
	dirCached  bool
	dirExpire  time.Time

	xattrs       []*proto.XAttr
	xattrsCached bool
	xattrsExpire time.Time

	timeout time.Time
	elem    *list.Element
}

func (e *entry) Less(than btree.Item) bool {
	return e.path < than.(*entry).path
}

func (e *entry) Copy() btree.Item {
	return &(*e)
}

// MetadataCache is safe for concurrent use. Its lock is never held across
// calls to other components.
type MetadataCache struct {
	size  int
	ttl   time.Duration
	clock util.Clock

	mu      sync.Mutex
	entries map[string]*entry
	index   *btree.BTree
	// touch order, front is the least recently updated entry
	lru *list.List
}

func NewMetadataCache(cfg Config, clock util.Clock) *MetadataCache {
	if clock == nil {
		clock = util.NewClock()
	}
	return &MetadataCache{
		size:    cfg.Size,
		ttl:     time.Duration(cfg.TTLS) * time.Second,
		clock:   clock,
		entries: make(map[string]*entry),
		index:   btree.New(btreeDegree),
		lru:     list.New(),
	}
}

func (c *MetadataCache) Enabled() bool {
	return c.size > 0
}

func (c *MetadataCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MetadataCache) removeLocked(e *entry) {
	delete(c.entries, e.path)
	c.index.Delete(e)
	c.lru.Remove(e.elem)
}

// touchLocked moves e to the back of the eviction order.
func (c *MetadataCache) touchLocked(e *entry) {
	c.lru.MoveToBack(e.elem)
}

// getOrCreateLocked returns the entry of path, evicting the oldest entries
// to make room when a new one is needed.
func (c *MetadataCache) getOrCreateLocked(path string) *entry {
	if e, ok := c.entries[path]; ok {
		c.touchLocked(e)
		return e
	}
	for len(c.entries) >= c.size {
		oldest := c.lru.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
		metrics.CacheEvictions.Inc()
	}
	e := &entry{path: path}
	e.elem = c.lru.PushBack(e)
	c.entries[path] = e
	c.index.ReplaceOrInsert(e)
	return e
}

// expiredLocked reports a miss for a value that expired at expire, dropping
// the whole entry once its own timeout has passed as well.
func (c *MetadataCache) expiredLocked(e *entry, expire, now time.Time) bool {
	if !now.After(expire) {
		return false
	}
	if now.After(e.timeout) {
		c.removeLocked(e)
	}
	return true
}

func hit(field string, ok bool) {
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheRequests.WithLabelValues(field, result).Inc()
}

func (c *MetadataCache) lookupLocked(path string) (*entry, bool) {
	if path == "" || !c.Enabled() {
		return nil, false
	}
	e, ok := c.entries[path]
	return e, ok
}

// Invalidate drops every value cached for path.
func (c *MetadataCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(path); ok {
		c.removeLocked(e)
	}
}

// subtreeLocked returns the entries below path, not including path itself.
// Siblings such as path+"." sort between path and path+"/" and are skipped.
func (c *MetadataCache) subtreeLocked(path string) []*entry {
	prefix := path + "/"
	var found []*entry
	c.index.AscendGreaterOrEqual(&entry{path: prefix}, func(i btree.Item) bool {
		e := i.(*entry)
		if !strings.HasPrefix(e.path, prefix) {
			return false
		}
		found = append(found, e)
		return true
	})
	return found
}

// InvalidatePrefix drops path and everything cached below it.
func (c *MetadataCache) InvalidatePrefix(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(path)
	if ok {
		c.removeLocked(e)
	}
	if path == "" || !c.Enabled() {
		return
	}
	for _, e := range c.subtreeLocked(path) {
		c.removeLocked(e)
	}
}

// RenamePrefix moves the entries of path and its subtree to newPath,
// dropping whatever was cached below newPath before.
func (c *MetadataCache) RenamePrefix(path, newPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path == "" || newPath == "" || path == newPath || !c.Enabled() {
		return
	}
	// whatever was cached at the target is stale now
	stale := c.subtreeLocked(newPath)
	if e, ok := c.entries[newPath]; ok {
		stale = append(stale, e)
	}
	for _, e := range stale {
		c.removeLocked(e)
	}

	moved := c.subtreeLocked(path)
	if e, ok := c.entries[path]; ok {
		moved = append([]*entry{e}, moved...)
	}
	for _, e := range moved {
		c.index.Delete(e)
		delete(c.entries, e.path)
	}
	for _, e := range moved {
		if e.path == path {
			e.path = newPath
		} else {
			e.path = newPath + strings.TrimPrefix(e.path, path)
		}
		c.entries[e.path] = e
		c.index.ReplaceOrInsert(e)
	}
}

// GetStat returns a copy of the cached Stat of path.
func (c *MetadataCache) GetStat(path string) (*proto.Stat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(path)
	if !ok || c.expiredLocked(e, e.statExpire, c.clock.Now()) || e.stat == nil {
		hit("stat", false)
		return nil, false
	}
	hit("stat", true)
	st := *e.stat
	return &st, true
}

// UpdateStat caches stat for path and restarts its expiry. Stats of hard
// linked files are never cached since other names may change them.
func (c *MetadataCache) UpdateStat(path string, stat *proto.Stat) {
	if path == "" || stat == nil || !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if stat.Nlink > 1 {
		if e, ok := c.entries[path]; ok {
			e.stat = nil
		}
		return
	}
	e := c.getOrCreateLocked(path)
	st := *stat
	e.stat = &st
	e.statExpire = c.clock.Now().Add(c.ttl)
	e.timeout = e.statExpire
}

// UpdateStatTime raises the selected timestamps of a cached Stat to ts.
// Timestamps never move backwards.
func (c *MetadataCache) UpdateStatTime(path string, ts time.Time, toSet proto.Setattrs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(path)
	if !ok || e.stat == nil {
		return
	}
	ns := uint64(ts.UnixNano())
	if toSet&proto.SetattrAtime != 0 && ns > e.stat.AtimeNs {
		e.stat.AtimeNs = ns
	}
	if toSet&proto.SetattrMtime != 0 && ns > e.stat.MtimeNs {
		e.stat.MtimeNs = ns
	}
	if toSet&proto.SetattrCtime != 0 && ns > e.stat.CtimeNs {
		e.stat.CtimeNs = ns
	}
	c.refreshStatLocked(e)
}

func (c *MetadataCache) refreshStatLocked(e *entry) {
	e.statExpire = c.clock.Now().Add(c.ttl)
	e.timeout = e.statExpire
	c.touchLocked(e)
}

// UpdateStatAttributes copies the fields selected by toSet from stat into the
// cached Stat of path. The size is only taken if it does not regress the
// cached (truncate epoch, size).
func (c *MetadataCache) UpdateStatAttributes(path string, stat *proto.Stat, toSet proto.Setattrs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(path)
	if !ok || e.stat == nil || stat == nil {
		return
	}
	cached := e.stat
	if toSet&proto.SetattrAttributes != 0 {
		cached.Attributes = stat.Attributes
	}
	if toSet&proto.SetattrMode != 0 {
		cached.Mode = stat.Mode
	}
	if toSet&proto.SetattrUID != 0 {
		cached.UserID = stat.UserID
	}
	if toSet&proto.SetattrGID != 0 {
		cached.GroupID = stat.GroupID
	}
	if toSet&proto.SetattrSize != 0 {
		mergeSize(cached, stat.TruncateEpoch, stat.Size)
	}
	if toSet&proto.SetattrAtime != 0 {
		cached.AtimeNs = stat.AtimeNs
	}
	if toSet&proto.SetattrMtime != 0 {
		cached.MtimeNs = stat.MtimeNs
	}
	if toSet&proto.SetattrCtime != 0 {
		cached.CtimeNs = stat.CtimeNs
	}
	c.refreshStatLocked(e)
}

func mergeSize(st *proto.Stat, epoch proto.TruncEpoch, size uint64) bool {
	cur := &proto.WriteAttestation{TruncateEpoch: st.TruncateEpoch, SizeInBytes: st.Size}
	att := &proto.WriteAttestation{TruncateEpoch: epoch, SizeInBytes: size}
	if proto.CompareWriteAttestations(att, cur) <= 0 {
		return false
	}
	st.Size = size
	st.TruncateEpoch = epoch
	return true
}

// UpdateStatFromWriteAttestation raises the cached size of path to the one
// attested by an OSD. The expiry is left untouched.
func (c *MetadataCache) UpdateStatFromWriteAttestation(path string, att *proto.WriteAttestation) {
	if att == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(path)
	if !ok || e.stat == nil {
		return
	}
	mergeSize(e.stat, att.TruncateEpoch, att.SizeInBytes)
}

func (c *MetadataCache) InvalidateStat(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(path); ok {
		e.stat = nil
	}
}

// GetDirEntries returns count cached entries of the directory path starting
// at offset. Only complete listings are cached, so a range reaching past
// the end is cut short.
func (c *MetadataCache) GetDirEntries(path string, offset uint64, count uint32) ([]*proto.DirEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(path)
	if !ok || !e.dirCached || c.expiredLocked(e, e.dirExpire, c.clock.Now()) {
		hit("dir_entries", false)
		return nil, false
	}
	total := uint64(len(e.dirEntries))
	if offset > total {
		hit("dir_entries", false)
		return nil, false
	}
	end := offset + uint64(count)
	if end > total {
		end = total
	}
	hit("dir_entries", true)
	return copyDirEntries(e.dirEntries[offset:end]), true
}

func copyDirEntries(src []*proto.DirEntry) []*proto.DirEntry {
	dst := make([]*proto.DirEntry, len(src))
	for i, d := range src {
		cp := &proto.DirEntry{Name: d.Name}
		if d.Stat != nil {
			st := *d.Stat
			cp.Stat = &st
		}
		dst[i] = cp
	}
	return dst
}

func (c *MetadataCache) UpdateDirEntries(path string, entries []*proto.DirEntry) {
	if path == "" || !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreateLocked(path)
	e.dirEntries = copyDirEntries(entries)
	e.dirCached = true
	e.dirExpire = c.clock.Now().Add(c.ttl)
	e.timeout = e.dirExpire
}

// InvalidateDirEntry removes name from the cached listing of dir.
func (c *MetadataCache) InvalidateDirEntry(dir, name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(dir)
	if !ok || !e.dirCached {
		return
	}
	kept := make([]*proto.DirEntry, 0, len(e.dirEntries))
	for _, d := range e.dirEntries {
		if d.Name != name {
			kept = append(kept, d)
		}
	}
	e.dirEntries = kept
}

func (c *MetadataCache) InvalidateDirEntries(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(path); ok {
		e.dirEntries = nil
		e.dirCached = false
	}
}

// GetXAttr looks up one attribute. listed reports whether a fresh attribute
// list of path is cached at all; found is only meaningful if it is.
func (c *MetadataCache) GetXAttr(path, name string) (value string, found, listed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	xattrs, ok := c.xattrsLocked(path)
	if !ok {
		return "", false, false
	}
	for _, x := range xattrs {
		if x.Name == name {
			return x.Value, true, true
		}
	}
	return "", false, true
}

// GetXAttrSize returns the length of one attribute value.
func (c *MetadataCache) GetXAttrSize(path, name string) (size int, found, listed bool) {
	value, found, listed := c.GetXAttr(path, name)
	return len(value), found, listed
}

func (c *MetadataCache) GetXAttrs(path string) ([]*proto.XAttr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	xattrs, ok := c.xattrsLocked(path)
	if !ok {
		return nil, false
	}
	return copyXAttrs(xattrs), true
}

func (c *MetadataCache) xattrsLocked(path string) ([]*proto.XAttr, bool) {
	e, ok := c.lookupLocked(path)
	if !ok || !e.xattrsCached || c.expiredLocked(e, e.xattrsExpire, c.clock.Now()) {
		hit("xattrs", false)
		return nil, false
	}
	hit("xattrs", true)
	return e.xattrs, true
}

func copyXAttrs(src []*proto.XAttr) []*proto.XAttr {
	dst := make([]*proto.XAttr, len(src))
	for i, x := range src {
		cp := *x
		dst[i] = &cp
	}
	return dst
}

func (c *MetadataCache) UpdateXAttrs(path string, xattrs []*proto.XAttr) {
	if path == "" || !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreateLocked(path)
	e.xattrs = copyXAttrs(xattrs)
	e.xattrsCached = true
	e.xattrsExpire = c.clock.Now().Add(c.ttl)
	e.timeout = e.xattrsExpire
}

// liveXAttrsLocked returns the entry of path only if it holds an unexpired
// attribute list. A partial list is never created.
func (c *MetadataCache) liveXAttrsLocked(path string) (*entry, bool) {
	e, ok := c.lookupLocked(path)
	if !ok || !e.xattrsCached || c.clock.Now().After(e.xattrsExpire) {
		return nil, false
	}
	return e, true
}

// UpdateXAttr sets one attribute in an already cached list without
// extending its lifetime.
func (c *MetadataCache) UpdateXAttr(path, name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.liveXAttrsLocked(path)
	if !ok {
		return
	}
	for _, x := range e.xattrs {
		if x.Name == name {
			x.Value = value
			return
		}
	}
	e.xattrs = append(e.xattrs, &proto.XAttr{Name: name, Value: value})
}

// InvalidateXAttr removes one attribute from an already cached list.
func (c *MetadataCache) InvalidateXAttr(path, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.liveXAttrsLocked(path)
	if !ok {
		return
	}
	kept := make([]*proto.XAttr, 0, len(e.xattrs))
	for _, x := range e.xattrs {
		if x.Name != name {
			kept = append(kept, x)
		}
	}
	e.xattrs = kept
}

func (c *MetadataCache) InvalidateXAttrs(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(path); ok {
		e.xattrs = nil
		e.xattrsCached = false
	}
}
