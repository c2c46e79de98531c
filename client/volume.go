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

package client

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/xtreemfs/xtreemfs-sub010/cache"
	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
)

// Volume runs path based operations against one volume of the metadata
// service. Results are served from and kept in the metadata cache.
type Volume struct {
	c     *Client
	name  string
	cache *cache.MetadataCache

	// mu guards the open file registry
	mu    sync.Mutex
	files map[string]*SharedFile
}

func newVolume(c *Client, name string, mc *cache.MetadataCache) *Volume {
	return &Volume{
		c:     c,
		name:  name,
		cache: mc,
		files: make(map[string]*SharedFile),
	}
}

func (v *Volume) Name() string {
	return v.name
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func timestamp(s uint32) time.Time {
	return time.Unix(int64(s), 0)
}

// touchParent records a change of the directory holding p.
func (v *Volume) touchParent(p string, ts uint32) {
	v.cache.UpdateStatTime(path.Dir(p), timestamp(ts), proto.SetattrMtime|proto.SetattrCtime)
}

// acquireFile returns the shared state of the file at p, creating it on the
// first open.
func (v *Volume) acquireFile(p string, fileID proto.FileID, xlocs *proto.LocationSet, writable bool) *SharedFile {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[p]
	if !ok || f.fileID != fileID {
		if ok {
			f.path = ""
		}
		f = newSharedFile(v, p, fileID, xlocs)
		v.files[p] = f
	} else {
		f.SetLocationSet(xlocs)
	}
	if writable {
		f.writers++
	} else {
		f.readers++
	}
	return f
}

// releaseFile drops one reference; the last one removes f from the registry.
func (v *Volume) releaseFile(f *SharedFile, writable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if writable {
		f.writers--
	} else {
		f.readers--
	}
	if f.readers+f.writers > 0 {
		return
	}
	if f.path != "" && v.files[f.path] == f {
		delete(v.files, f.path)
	}
}

func (v *Volume) openFile(p string) *SharedFile {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.files[p]
}

// detachFile forgets the path of an unlinked file. Open handles keep it.
func (v *Volume) detachFile(p string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[p]
	if !ok {
		return false
	}
	delete(v.files, p)
	f.path = ""
	return true
}

func (v *Volume) renameFiles(src, dst string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.files[dst]; ok {
		delete(v.files, dst)
		f.path = ""
	}
	prefix := src + "/"
	for p, f := range v.files {
		var newPath string
		switch {
		case p == src:
			newPath = dst
		case len(p) > len(prefix) && p[:len(prefix)] == prefix:
			newPath = dst + "/" + p[len(prefix):]
		default:
			continue
		}
		delete(v.files, p)
		f.path = newPath
		v.files[newPath] = f
	}
}

func (v *Volume) GetAttr(ctx context.Context, p string) (*proto.Stat, error) {
	span, ctx := startSpan(ctx, "getattr")
	p = cleanPath(p)
	st, ok := v.cache.GetStat(p)
	if !ok {
		ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
			return v.c.mrc.Getattr(ctx, ep, &proto.GetattrRequest{VolumeName: v.name, Path: p})
		})
		if err != nil {
			v.cache.Invalidate(p)
			if apierrors.ErrnoOf(err) == apierrors.ENOENT {
				span.Debugf("getattr %s: %s", p, err)
			} else {
				span.Warnf("getattr %s failed: %s", p, err)
			}
			return nil, err
		}
		st = ret.(*proto.Stat)
		v.cache.UpdateStat(p, st)
	}
	if f := v.openFile(p); f != nil {
		f.mergeStat(st)
	}
	return st, nil
}

// SetAttr changes the fields of p selected by toSet. A size change is run
// as a truncate through the OSDs.
func (v *Volume) SetAttr(ctx context.Context, p string, stat *proto.Stat, toSet proto.Setattrs) error {
	span, ctx := startSpan(ctx, "setattr")
	p = cleanPath(p)
	if toSet&proto.SetattrSize != 0 {
		if err := v.Truncate(ctx, p, stat.Size); err != nil {
			return err
		}
		toSet &^= proto.SetattrSize
		if toSet == 0 {
			return nil
		}
	}
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Setattr(ctx, ep, &proto.SetattrRequest{VolumeName: v.name, Path: p, Stat: stat, ToSet: toSet})
	})
	if err != nil {
		span.Warnf("setattr %s failed: %s", p, err)
		v.cache.InvalidateStat(p)
		return err
	}
	v.cache.UpdateStatAttributes(p, stat, toSet)
	v.cache.UpdateStatTime(p, timestamp(ret.(*proto.TimestampResponse).TimestampS), proto.SetattrCtime)
	return nil
}

// ReadDir returns up to count entries of the directory p starting at
// offset, count 0 returns all. Full listings are cached.
func (v *Volume) ReadDir(ctx context.Context, p string, offset uint64, count uint32) ([]*proto.DirEntry, error) {
	span, ctx := startSpan(ctx, "readdir")
	p = cleanPath(p)
	if count == 0 {
		count = ^uint32(0)
	}
	if entries, ok := v.cache.GetDirEntries(p, offset, count); ok {
		return entries, nil
	}
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Readdir(ctx, ep, &proto.ReaddirRequest{VolumeName: v.name, Path: p})
	})
	if err != nil {
		span.Warnf("readdir %s failed: %s", p, err)
		v.cache.InvalidateDirEntries(p)
		return nil, err
	}
	entries := ret.([]*proto.DirEntry)
	v.cache.UpdateDirEntries(p, entries)
	for _, entry := range entries {
		if entry.Stat == nil || entry.Name == "." || entry.Name == ".." {
			continue
		}
		v.cache.UpdateStat(path.Join(p, entry.Name), entry.Stat)
	}
	if offset >= uint64(len(entries)) {
		return nil, nil
	}
	end := uint64(len(entries))
	if offset+uint64(count) < end {
		end = offset + uint64(count)
	}
	return entries[offset:end], nil
}

func (v *Volume) Mkdir(ctx context.Context, p string, mode uint32) error {
	span, ctx := startSpan(ctx, "mkdir")
	p = cleanPath(p)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Mkdir(ctx, ep, &proto.MkdirRequest{VolumeName: v.name, Path: p, Mode: mode})
	})
	if err != nil {
		span.Warnf("mkdir %s failed: %s", p, err)
		return err
	}
	v.cache.InvalidateDirEntries(path.Dir(p))
	v.touchParent(p, ret.(*proto.TimestampResponse).TimestampS)
	return nil
}

func (v *Volume) Rmdir(ctx context.Context, p string) error {
	span, ctx := startSpan(ctx, "rmdir")
	p = cleanPath(p)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Rmdir(ctx, ep, &proto.RmdirRequest{VolumeName: v.name, Path: p})
	})
	if err != nil {
		span.Warnf("rmdir %s failed: %s", p, err)
		return err
	}
	v.cache.InvalidatePrefix(p)
	v.cache.InvalidateDirEntry(path.Dir(p), path.Base(p))
	v.touchParent(p, ret.(*proto.TimestampResponse).TimestampS)
	return nil
}

// Unlink removes p. The objects of a file that is not open are deleted at
// the OSDs right away.
func (v *Volume) Unlink(ctx context.Context, p string) error {
	span, ctx := startSpan(ctx, "unlink")
	p = cleanPath(p)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Unlink(ctx, ep, &proto.UnlinkRequest{VolumeName: v.name, Path: p})
	})
	if err != nil {
		span.Warnf("unlink %s failed: %s", p, err)
		return err
	}
	resp := ret.(*proto.UnlinkResponse)
	v.cache.InvalidatePrefix(p)
	v.cache.InvalidateDirEntry(path.Dir(p), path.Base(p))
	v.touchParent(p, resp.TimestampS)
	if v.detachFile(p) {
		span.Infof("unlink %s while open, objects are kept", p)
		return nil
	}
	return v.c.io.Unlink(ctx, resp.Creds)
}

// Rename moves src to dst. A file replaced at dst loses its objects unless
// it is open.
func (v *Volume) Rename(ctx context.Context, src, dst string) error {
	span, ctx := startSpan(ctx, "rename")
	src, dst = cleanPath(src), cleanPath(dst)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Rename(ctx, ep, &proto.RenameRequest{VolumeName: v.name, Source: src, Target: dst})
	})
	if err != nil {
		span.Warnf("rename %s to %s failed: %s", src, dst, err)
		return err
	}
	resp := ret.(*proto.RenameResponse)
	replacedOpen := v.openFile(dst) != nil
	v.renameFiles(src, dst)
	v.cache.RenamePrefix(src, dst)
	v.cache.InvalidateDirEntry(path.Dir(src), path.Base(src))
	v.cache.InvalidateDirEntries(path.Dir(dst))
	v.touchParent(src, resp.TimestampS)
	v.touchParent(dst, resp.TimestampS)
	v.cache.UpdateStatTime(dst, timestamp(resp.TimestampS), proto.SetattrCtime)
	if resp.Creds == nil || replacedOpen {
		return nil
	}
	return v.c.io.Unlink(ctx, resp.Creds)
}

func (v *Volume) ListXAttrs(ctx context.Context, p string) ([]*proto.XAttr, error) {
	span, ctx := startSpan(ctx, "listxattr")
	p = cleanPath(p)
	if xattrs, ok := v.cache.GetXAttrs(p); ok {
		return xattrs, nil
	}
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Listxattr(ctx, ep, &proto.ListxattrRequest{VolumeName: v.name, Path: p})
	})
	if err != nil {
		span.Warnf("listxattr %s failed: %s", p, err)
		v.cache.InvalidateXAttrs(p)
		return nil, err
	}
	xattrs := ret.([]*proto.XAttr)
	v.cache.UpdateXAttrs(p, xattrs)
	return xattrs, nil
}

// GetXAttr answers from a cached list when one exists, "list cached but
// name absent" included. Otherwise the whole list is fetched.
func (v *Volume) GetXAttr(ctx context.Context, p, name string) (string, error) {
	p = cleanPath(p)
	if value, found, listed := v.cache.GetXAttr(p, name); listed {
		if !found {
			return "", apierrors.ErrNoXAttr
		}
		return value, nil
	}
	xattrs, err := v.ListXAttrs(ctx, p)
	if err != nil {
		return "", err
	}
	for _, xattr := range xattrs {
		if xattr.Name == name {
			return xattr.Value, nil
		}
	}
	return "", apierrors.ErrNoXAttr
}

func (v *Volume) GetXAttrSize(ctx context.Context, p, name string) (int, error) {
	p = cleanPath(p)
	if size, found, listed := v.cache.GetXAttrSize(p, name); listed {
		if !found {
			return 0, apierrors.ErrNoXAttr
		}
		return size, nil
	}
	value, err := v.GetXAttr(ctx, p, name)
	if err != nil {
		return 0, err
	}
	return len(value), nil
}

func (v *Volume) SetXAttr(ctx context.Context, p, name, value string, flags int32) error {
	span, ctx := startSpan(ctx, "setxattr")
	p = cleanPath(p)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Setxattr(ctx, ep, &proto.SetxattrRequest{VolumeName: v.name, Path: p, Name: name, Value: value, Flags: flags})
	})
	if err != nil {
		span.Warnf("setxattr %s %s failed: %s", p, name, err)
		v.cache.InvalidateXAttrs(p)
		return err
	}
	v.cache.UpdateXAttr(p, name, value)
	v.cache.UpdateStatTime(p, timestamp(ret.(*proto.TimestampResponse).TimestampS), proto.SetattrCtime)
	return nil
}

func (v *Volume) RemoveXAttr(ctx context.Context, p, name string) error {
	span, ctx := startSpan(ctx, "removexattr")
	p = cleanPath(p)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Removexattr(ctx, ep, &proto.RemovexattrRequest{VolumeName: v.name, Path: p, Name: name})
	})
	if err != nil {
		span.Warnf("removexattr %s %s failed: %s", p, name, err)
		v.cache.InvalidateXAttrs(p)
		return err
	}
	v.cache.InvalidateXAttr(p, name)
	v.cache.UpdateStatTime(p, timestamp(ret.(*proto.TimestampResponse).TimestampS), proto.SetattrCtime)
	return nil
}

// OpenFile opens p and returns a handle that owns a capability lease until
// it is closed.
func (v *Volume) OpenFile(ctx context.Context, p string, flags proto.OpenFlags, mode uint32) (*FileHandle, error) {
	span, ctx := startSpan(ctx, "open")
	p = cleanPath(p)
	ret, err := v.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return v.c.mrc.Open(ctx, ep, &proto.OpenRequest{VolumeName: v.name, Path: p, Flags: flags, Mode: mode})
	})
	if err != nil {
		span.Warnf("open %s failed: %s", p, err)
		return nil, err
	}
	resp := ret.(*proto.OpenResponse)
	if resp.Creds == nil || resp.Creds.Cap == nil {
		return nil, apierrors.NewInternalServer("open returned no capability")
	}
	if flags&proto.FlagCreate != 0 {
		v.cache.InvalidateDirEntries(path.Dir(p))
		v.touchParent(p, resp.TimestampS)
	}
	if flags&proto.FlagTruncate != 0 {
		v.cache.UpdateStatTime(p, timestamp(resp.TimestampS), proto.SetattrMtime|proto.SetattrCtime)
	}

	shared := v.acquireFile(p, resp.Creds.Cap.FileID, resp.Creds.XLocs, flags.Writable())
	h := newFileHandle(v, shared, v.c.leases.Start(resp.Creds.Cap), flags)
	if flags&proto.FlagTruncate != 0 {
		if err = h.viewChecked(ctx, func() error {
			return v.c.io.TruncateObjects(ctx, h, 0)
		}); err != nil {
			span.Warnf("truncate on open %s failed: %s", p, err)
			h.Close(ctx)
			return nil, err
		}
	}
	span.Debugf("opened %s, file id %s", p, resp.Creds.Cap.FileID)
	return h, nil
}

// Truncate sets the size of the file at p.
func (v *Volume) Truncate(ctx context.Context, p string, size uint64) error {
	span, ctx := startSpan(ctx, "truncate")
	h, err := v.OpenFile(ctx, p, proto.FlagWriteOnly, 0)
	if err != nil {
		return err
	}
	err = h.Truncate(ctx, size)
	if cerr := h.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		span.Warnf("truncate %s to %d failed: %s", p, size, err)
	}
	return err
}
