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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
)

// SharedFile is the state every open handle of one file shares: the
// location set, the highest write attestation seen and the advisory locks
// held per process. The volume keeps at most one per path.
type SharedFile struct {
	v      *Volume
	fileID proto.FileID

	// guarded by the volume registry lock
	path    string
	readers int
	writers int

	mu          sync.Mutex
	xlocs       *proto.LocationSet
	attestation *proto.WriteAttestation
	pushed      *proto.WriteAttestation
	locks       map[int32]*proto.Lock

	singleRun singleflight.Group
}

func newSharedFile(v *Volume, path string, fileID proto.FileID, xlocs *proto.LocationSet) *SharedFile {
	return &SharedFile{
		v:      v,
		fileID: fileID,
		path:   path,
		xlocs:  xlocs,
		locks:  make(map[int32]*proto.Lock),
	}
}

func (f *SharedFile) FileID() proto.FileID {
	return f.fileID
}

// openCounts returns the number of read-only and writable handles.
func (f *SharedFile) openCounts() (readers, writers int) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	return f.readers, f.writers
}

// Path returns the current path, "" once the file was unlinked.
func (f *SharedFile) Path() string {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	return f.path
}

func (f *SharedFile) LocationSet() *proto.LocationSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xlocs
}

// SetLocationSet installs xlocs unless a newer version is already known.
func (f *SharedFile) SetLocationSet(xlocs *proto.LocationSet) bool {
	if xlocs == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.xlocs.NewerThan(xlocs) {
		return false
	}
	f.xlocs = xlocs
	return true
}

// renewLocationSet fetches the current location set from the metadata
// service. Concurrent renewals of one file share a single request.
func (f *SharedFile) renewLocationSet(ctx context.Context, xcap *proto.Capability) error {
	span := trace.SpanFromContextSafe(ctx)
	_, err, _ := f.singleRun.Do("xlocs", func() (interface{}, error) {
		c := f.v.c
		ret, err := c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
			return c.mrc.GetXLocSet(ctx, ep, &proto.GetXLocSetRequest{FileID: f.fileID, Cap: xcap})
		})
		if err != nil {
			return nil, err
		}
		xlocs := ret.(*proto.LocationSet)
		if !f.SetLocationSet(xlocs) {
			span.Infof("discard location set version %d of file %s", xlocs.Version, f.fileID)
		}
		return nil, nil
	})
	return err
}

// recordAttestation keeps att if it is the highest seen so far.
func (f *SharedFile) recordAttestation(att *proto.WriteAttestation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if proto.CompareWriteAttestations(att, f.attestation) <= 0 {
		return false
	}
	f.attestation = att
	return true
}

// pending returns the highest attestation not yet acknowledged by the
// metadata service.
func (f *SharedFile) pending() *proto.WriteAttestation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if proto.CompareWriteAttestations(f.attestation, f.pushed) <= 0 {
		return nil
	}
	return f.attestation
}

func (f *SharedFile) markPushed(att *proto.WriteAttestation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if proto.CompareWriteAttestations(att, f.pushed) > 0 {
		f.pushed = att
	}
}

// mergeStat raises the size in st to the highest attestation seen.
func (f *SharedFile) mergeStat(st *proto.Stat) {
	f.mu.Lock()
	att := f.attestation
	f.mu.Unlock()
	cur := &proto.WriteAttestation{TruncateEpoch: st.TruncateEpoch, SizeInBytes: st.Size}
	if proto.CompareWriteAttestations(att, cur) > 0 {
		st.Size = att.SizeInBytes
		st.TruncateEpoch = att.TruncateEpoch
	}
}

// conflictingLock returns a lock held by another process of this client
// that conflicts with lock.
func (f *SharedFile) conflictingLock(lock *proto.Lock) *proto.Lock {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, held := range f.locks {
		if held.ConflictsWith(lock) {
			return held
		}
	}
	return nil
}

func (f *SharedFile) lockOf(pid int32) *proto.Lock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[pid]
}

func (f *SharedFile) setLock(lock *proto.Lock) {
	f.mu.Lock()
	f.locks[lock.ClientPID] = lock
	f.mu.Unlock()
}

func (f *SharedFile) removeLock(pid int32) {
	f.mu.Lock()
	delete(f.locks, pid)
	f.mu.Unlock()
}
