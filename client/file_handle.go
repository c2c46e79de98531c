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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/lease"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
)

// FileHandle is one open instance of a file.
type FileHandle struct {
	v      *Volume
	shared *SharedFile
	lease  *lease.Lease
	flags  proto.OpenFlags

	hint   int32
	closed int32

	mu sync.Mutex
	// pids that acquired locks through this handle
	lockPIDs map[int32]struct{}
}

func newFileHandle(v *Volume, shared *SharedFile, l *lease.Lease, flags proto.OpenFlags) *FileHandle {
	return &FileHandle{
		v:        v,
		shared:   shared,
		lease:    l,
		flags:    flags,
		lockPIDs: make(map[int32]struct{}),
	}
}

func (h *FileHandle) Capability() *proto.Capability {
	return h.lease.Capability()
}

func (h *FileHandle) SetCapability(xcap *proto.Capability) {
	h.lease.Set(xcap)
}

func (h *FileHandle) LocationSet() *proto.LocationSet {
	return h.shared.LocationSet()
}

func (h *FileHandle) ReplicaHint() int {
	return int(atomic.LoadInt32(&h.hint))
}

func (h *FileHandle) SetReplicaHint(idx int) {
	atomic.StoreInt32(&h.hint, int32(idx))
}

// Reconcile keeps att if it beats every attestation seen for the file and
// reports it to the metadata service before returning.
func (h *FileHandle) Reconcile(ctx context.Context, att *proto.WriteAttestation) error {
	if !h.shared.recordAttestation(att) {
		return nil
	}
	if p := h.shared.Path(); p != "" {
		h.v.cache.UpdateStatFromWriteAttestation(p, att)
	}
	return h.pushAttestation(ctx, att, false)
}

func (h *FileHandle) pushAttestation(ctx context.Context, att *proto.WriteAttestation, closeFile bool) error {
	c := h.v.c
	req := &proto.UpdateFileSizeRequest{Cap: h.Capability(), Attestation: att, CloseFile: closeFile}
	_, err := c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return nil, c.mrc.UpdateFileSize(ctx, ep, req)
	})
	if err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("update file size of %s failed: %s", h.shared.FileID(), err)
		return err
	}
	h.shared.markPushed(att)
	return nil
}

func (h *FileHandle) isClosed() bool {
	return atomic.LoadInt32(&h.closed) == 1
}

// viewChecked runs op and, while it fails because the location set is
// outdated, renews the location set and runs it again.
func (h *FileHandle) viewChecked(ctx context.Context, op func() error) error {
	span := trace.SpanFromContextSafe(ctx)
	c := h.v.c
	delay := time.Duration(c.cfg.RetryDelayMs) * time.Millisecond
	for renewals := 0; ; renewals++ {
		err := op()
		if apierrors.KindOf(err) != apierrors.KindStaleView || renewals >= c.cfg.MaxViewRenewals {
			return err
		}
		span.Infof("location set of %s is outdated, renewal %d: %s", h.shared.FileID(), renewals+1, err)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return apierrors.NewCancelled(renewals+1, err)
		}
		if err := h.shared.renewLocationSet(ctx, h.Capability()); err != nil {
			return err
		}
	}
}

// Read fills buf from offset and returns the bytes read. A short count means
// the end of the file was reached.
func (h *FileHandle) Read(ctx context.Context, buf []byte, offset uint64) (int, error) {
	if h.isClosed() {
		return 0, apierrors.ErrHandleClosed
	}
	span, ctx := startSpan(ctx, "read")
	var n int
	err := h.viewChecked(ctx, func() (err error) {
		n, err = h.v.c.io.Read(ctx, h, buf, offset)
		return
	})
	if err != nil {
		span.Warnf("read %s at %d failed: %s", h.shared.FileID(), offset, err)
	}
	return n, err
}

// Write stores buf at offset, or at the end of the file for handles opened
// with FlagAppend.
func (h *FileHandle) Write(ctx context.Context, buf []byte, offset uint64) (int, error) {
	if h.isClosed() {
		return 0, apierrors.ErrHandleClosed
	}
	if !h.flags.Writable() {
		return 0, apierrors.NewApplication(apierrors.EBADF, "handle not opened for writing")
	}
	span, ctx := startSpan(ctx, "write")
	if h.flags&proto.FlagAppend != 0 {
		st, err := h.GetAttr(ctx)
		if err != nil {
			return 0, err
		}
		offset = st.Size
	}
	var n int
	err := h.viewChecked(ctx, func() (err error) {
		n, err = h.v.c.io.Write(ctx, h, buf, offset)
		return
	})
	if err != nil {
		span.Warnf("write %s at %d failed: %s", h.shared.FileID(), offset, err)
	}
	return n, err
}

func (h *FileHandle) Truncate(ctx context.Context, size uint64) error {
	if h.isClosed() {
		return apierrors.ErrHandleClosed
	}
	span, ctx := startSpan(ctx, "ftruncate")
	err := h.viewChecked(ctx, func() error {
		return h.v.c.io.Truncate(ctx, h, size)
	})
	if err != nil {
		span.Warnf("truncate %s to %d failed: %s", h.shared.FileID(), size, err)
	}
	return err
}

// Flush reports a size change not yet acknowledged by the metadata service.
func (h *FileHandle) Flush(ctx context.Context) error {
	if h.isClosed() {
		return apierrors.ErrHandleClosed
	}
	return h.flush(ctx, false)
}

func (h *FileHandle) flush(ctx context.Context, closeFile bool) error {
	att := h.shared.pending()
	if att == nil {
		return nil
	}
	return h.pushAttestation(ctx, att, closeFile)
}

func (h *FileHandle) GetAttr(ctx context.Context) (*proto.Stat, error) {
	if p := h.shared.Path(); p != "" {
		return h.v.GetAttr(ctx, p)
	}
	return nil, apierrors.NewApplication(apierrors.ENOENT, "file was unlinked")
}

// SetAttr changes attributes through the capability of the handle.
func (h *FileHandle) SetAttr(ctx context.Context, stat *proto.Stat, toSet proto.Setattrs) error {
	if h.isClosed() {
		return apierrors.ErrHandleClosed
	}
	span, ctx := startSpan(ctx, "fsetattr")
	c := h.v.c
	req := &proto.FsetattrRequest{Cap: h.Capability(), Stat: stat, ToSet: toSet}
	_, err := c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return nil, c.mrc.Fsetattr(ctx, ep, req)
	})
	p := h.shared.Path()
	if err != nil {
		span.Warnf("fsetattr %s failed: %s", h.shared.FileID(), err)
		if p != "" {
			h.v.cache.InvalidateStat(p)
		}
		return err
	}
	if p != "" {
		h.v.cache.UpdateStatAttributes(p, stat, toSet)
	}
	return nil
}

func (h *FileHandle) newLock(pid int32, offset, length uint64, exclusive bool) *proto.Lock {
	return &proto.Lock{
		ClientUUID: h.v.c.clientUUID,
		ClientPID:  pid,
		Offset:     offset,
		Length:     length,
		Exclusive:  exclusive,
	}
}

// AcquireLock takes an advisory lock for process pid. With wait set a
// conflicting lock is polled until it is released or ctx is done.
func (h *FileHandle) AcquireLock(ctx context.Context, pid int32, offset, length uint64, exclusive, wait bool) (*proto.Lock, error) {
	if h.isClosed() {
		return nil, apierrors.ErrHandleClosed
	}
	span, ctx := startSpan(ctx, "acquire_lock")
	c := h.v.c
	lock := h.newLock(pid, offset, length, exclusive)
	delay := time.Duration(c.cfg.RetryDelayMs) * time.Millisecond
	for attempt := 1; ; attempt++ {
		var (
			granted *proto.Lock
			err     error
		)
		if held := h.shared.conflictingLock(lock); held != nil {
			err = apierrors.ErrLockConflict
		} else {
			granted, err = c.io.AcquireLock(ctx, h, lock)
		}
		if err == nil {
			h.shared.setLock(granted)
			h.mu.Lock()
			h.lockPIDs[pid] = struct{}{}
			h.mu.Unlock()
			return granted, nil
		}
		if !wait || apierrors.ErrnoOf(err) != apierrors.EAGAIN {
			return nil, err
		}
		span.Debugf("lock of pid %d on %s busy, attempt %d", pid, h.shared.FileID(), attempt)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil, apierrors.NewCancelled(attempt, err)
		}
	}
}

// CheckLock returns the lock itself if it could be granted, otherwise the
// lock in the way.
func (h *FileHandle) CheckLock(ctx context.Context, pid int32, offset, length uint64, exclusive bool) (*proto.Lock, error) {
	if h.isClosed() {
		return nil, apierrors.ErrHandleClosed
	}
	_, ctx = startSpan(ctx, "check_lock")
	lock := h.newLock(pid, offset, length, exclusive)
	if held := h.shared.lockOf(pid); held != nil && held.Equal(lock) {
		return held, nil
	}
	if held := h.shared.conflictingLock(lock); held != nil {
		return held, nil
	}
	return h.v.c.io.CheckLock(ctx, h, lock)
}

func (h *FileHandle) ReleaseLock(ctx context.Context, pid int32, offset, length uint64, exclusive bool) error {
	_, ctx = startSpan(ctx, "release_lock")
	return h.releaseLock(ctx, h.newLock(pid, offset, length, exclusive))
}

func (h *FileHandle) releaseLock(ctx context.Context, lock *proto.Lock) error {
	if err := h.v.c.io.ReleaseLock(ctx, h, lock); err != nil {
		return err
	}
	h.shared.removeLock(lock.ClientPID)
	h.mu.Lock()
	delete(h.lockPIDs, lock.ClientPID)
	h.mu.Unlock()
	return nil
}

// ReleaseLockOfProcess drops the lock pid holds on the file, if any.
func (h *FileHandle) ReleaseLockOfProcess(ctx context.Context, pid int32) error {
	held := h.shared.lockOf(pid)
	if held == nil {
		return nil
	}
	_, ctx = startSpan(ctx, "release_lock")
	return h.releaseLock(ctx, held)
}

// Close flushes pending size changes, releases the locks taken through this
// handle and stops renewing its capability. Further calls fail.
func (h *FileHandle) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return apierrors.ErrHandleClosed
	}
	span, ctx := startSpan(ctx, "close")
	defer func() {
		h.lease.Close()
		h.v.releaseFile(h.shared, h.flags.Writable())
	}()

	h.mu.Lock()
	pids := make([]int32, 0, len(h.lockPIDs))
	for pid := range h.lockPIDs {
		pids = append(pids, pid)
	}
	h.mu.Unlock()
	for _, pid := range pids {
		if err := h.ReleaseLockOfProcess(ctx, pid); err != nil {
			span.Warnf("release lock of pid %d on %s failed: %s", pid, h.shared.FileID(), err)
		}
	}

	if !h.flags.Writable() {
		return nil
	}
	return h.flush(ctx, true)
}
