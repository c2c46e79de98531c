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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

const testStripeSize = 64

type fakeNode struct {
	stat   proto.Stat
	fileID proto.FileID
	xattrs map[string]string
}

// fakeMRC is an in-memory namespace of one volume.
type fakeMRC struct {
	mu      sync.Mutex
	clock   util.Clock
	nodes   map[string]*fakeNode
	nextIno uint64
	xlocs   map[proto.FileID]*proto.LocationSet
	calls   map[string]int
	closes  int
	// failUpdates rejects that many file size updates
	failUpdates int
}

func newFakeMRC(clock util.Clock) *fakeMRC {
	m := &fakeMRC{
		clock: clock,
		nodes: make(map[string]*fakeNode),
		xlocs: make(map[proto.FileID]*proto.LocationSet),
		calls: make(map[string]int),
	}
	m.nodes["/"] = &fakeNode{stat: proto.Stat{Ino: 1, Mode: proto.ModeDir | 0o755, Nlink: 1}, xattrs: map[string]string{}}
	m.nextIno = 2
	return m
}

func (m *fakeMRC) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *fakeMRC) now() uint32 {
	return uint32(m.clock.Now().Unix())
}

func (m *fakeMRC) capability(n *fakeNode) *proto.Capability {
	return &proto.Capability{
		FileID:         n.fileID,
		AccessMode:     proto.FlagReadWrite,
		ExpireTime:     m.clock.Now().Add(time.Hour),
		ExpireTimeoutS: 3600,
		TruncateEpoch:  n.stat.TruncateEpoch,
	}
}

func (m *fakeMRC) creds(n *fakeNode) *proto.FileCredentials {
	return &proto.FileCredentials{Cap: m.capability(n), XLocs: m.xlocs[n.fileID]}
}

func (m *fakeMRC) byFileID(id proto.FileID) *fakeNode {
	for _, n := range m.nodes {
		if n.fileID == id {
			return n
		}
	}
	return nil
}

func enoent(p string) error {
	return apierrors.NewApplication(apierrors.ENOENT, p+" not found")
}

func (m *fakeMRC) Getattr(ctx context.Context, ep rpc.Endpoint, req *proto.GetattrRequest) (*proto.Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["getattr"]++
	n, ok := m.nodes[req.Path]
	if !ok {
		return nil, enoent(req.Path)
	}
	st := n.stat
	return &st, nil
}

func applyStat(dst, src *proto.Stat, toSet proto.Setattrs) {
	if toSet&proto.SetattrMode != 0 {
		dst.Mode = dst.Mode&^0o7777 | src.Mode&0o7777
	}
	if toSet&proto.SetattrUID != 0 {
		dst.UserID = src.UserID
	}
	if toSet&proto.SetattrGID != 0 {
		dst.GroupID = src.GroupID
	}
	if toSet&proto.SetattrMtime != 0 {
		dst.MtimeNs = src.MtimeNs
	}
}

func (m *fakeMRC) Setattr(ctx context.Context, ep rpc.Endpoint, req *proto.SetattrRequest) (*proto.TimestampResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["setattr"]++
	n, ok := m.nodes[req.Path]
	if !ok {
		return nil, enoent(req.Path)
	}
	applyStat(&n.stat, req.Stat, req.ToSet)
	return &proto.TimestampResponse{TimestampS: m.now()}, nil
}

func (m *fakeMRC) Fsetattr(ctx context.Context, ep rpc.Endpoint, req *proto.FsetattrRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["fsetattr"]++
	n := m.byFileID(req.Cap.FileID)
	if n == nil {
		return enoent(req.Cap.FileID)
	}
	applyStat(&n.stat, req.Stat, req.ToSet)
	return nil
}

func (m *fakeMRC) Readdir(ctx context.Context, ep rpc.Endpoint, req *proto.ReaddirRequest) ([]*proto.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["readdir"]++
	if _, ok := m.nodes[req.Path]; !ok {
		return nil, enoent(req.Path)
	}
	var entries []*proto.DirEntry
	for p, n := range m.nodes {
		if p == "/" || path.Dir(p) != req.Path {
			continue
		}
		st := n.stat
		entries = append(entries, &proto.DirEntry{Name: path.Base(p), Stat: &st})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *fakeMRC) Open(ctx context.Context, ep rpc.Endpoint, req *proto.OpenRequest) (*proto.OpenResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["open"]++
	n, ok := m.nodes[req.Path]
	switch {
	case !ok && req.Flags&proto.FlagCreate == 0:
		return nil, enoent(req.Path)
	case ok && req.Flags&proto.FlagCreate != 0 && req.Flags&proto.FlagExclusive != 0:
		return nil, apierrors.NewApplication(apierrors.EEXIST, req.Path)
	case !ok:
		if _, ok := m.nodes[path.Dir(req.Path)]; !ok {
			return nil, enoent(path.Dir(req.Path))
		}
		n = &fakeNode{
			stat:   proto.Stat{Ino: m.nextIno, Mode: proto.ModeFile | req.Mode, Nlink: 1},
			fileID: "vol:" + strconv.FormatUint(m.nextIno, 10),
			xattrs: map[string]string{},
		}
		m.nextIno++
		m.nodes[req.Path] = n
		m.xlocs[n.fileID] = &proto.LocationSet{
			Version: 1,
			Replicas: []*proto.Replica{{
				StripingPolicy: proto.StripingPolicy{Type: proto.StripingPolicyRAID0, StripeSize: testStripeSize, Width: 1},
				OSDUUIDs:       []proto.ServiceUUID{"osd1"},
			}},
		}
	}
	if n.stat.IsDir() {
		return nil, apierrors.NewApplication(apierrors.EISDIR, req.Path)
	}
	if req.Flags&proto.FlagTruncate != 0 {
		n.stat.TruncateEpoch++
		n.stat.Size = 0
	}
	return &proto.OpenResponse{Creds: m.creds(n), TimestampS: m.now()}, nil
}

func (m *fakeMRC) moveLocked(src, dst string) {
	prefix := src + "/"
	for p, n := range m.nodes {
		if p == src {
			delete(m.nodes, p)
			m.nodes[dst] = n
		} else if strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
			m.nodes[dst+"/"+p[len(prefix):]] = n
		}
	}
}

func (m *fakeMRC) Rename(ctx context.Context, ep rpc.Endpoint, req *proto.RenameRequest) (*proto.RenameResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["rename"]++
	if _, ok := m.nodes[req.Source]; !ok {
		return nil, enoent(req.Source)
	}
	resp := &proto.RenameResponse{TimestampS: m.now()}
	if old, ok := m.nodes[req.Target]; ok && !old.stat.IsDir() {
		resp.Creds = m.creds(old)
		delete(m.nodes, req.Target)
	}
	m.moveLocked(req.Source, req.Target)
	return resp, nil
}

func (m *fakeMRC) Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.UnlinkRequest) (*proto.UnlinkResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["unlink"]++
	n, ok := m.nodes[req.Path]
	if !ok {
		return nil, enoent(req.Path)
	}
	delete(m.nodes, req.Path)
	return &proto.UnlinkResponse{TimestampS: m.now(), Creds: m.creds(n)}, nil
}

func (m *fakeMRC) Mkdir(ctx context.Context, ep rpc.Endpoint, req *proto.MkdirRequest) (*proto.TimestampResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["mkdir"]++
	if _, ok := m.nodes[req.Path]; ok {
		return nil, apierrors.NewApplication(apierrors.EEXIST, req.Path)
	}
	m.nodes[req.Path] = &fakeNode{
		stat:   proto.Stat{Ino: m.nextIno, Mode: proto.ModeDir | req.Mode, Nlink: 1},
		xattrs: map[string]string{},
	}
	m.nextIno++
	return &proto.TimestampResponse{TimestampS: m.now()}, nil
}

func (m *fakeMRC) Rmdir(ctx context.Context, ep rpc.Endpoint, req *proto.RmdirRequest) (*proto.TimestampResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["rmdir"]++
	if _, ok := m.nodes[req.Path]; !ok {
		return nil, enoent(req.Path)
	}
	for p := range m.nodes {
		if strings.HasPrefix(p, req.Path+"/") {
			return nil, apierrors.NewApplication(apierrors.ENOTEMPTY, req.Path)
		}
	}
	delete(m.nodes, req.Path)
	return &proto.TimestampResponse{TimestampS: m.now()}, nil
}

func (m *fakeMRC) RenewCapability(ctx context.Context, ep rpc.Endpoint, xcap *proto.Capability) (*proto.Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["renew"]++
	renewed := *xcap
	renewed.ExpireTime = m.clock.Now().Add(time.Hour)
	return &renewed, nil
}

func (m *fakeMRC) Ftruncate(ctx context.Context, ep rpc.Endpoint, xcap *proto.Capability) (*proto.Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ftruncate"]++
	n := m.byFileID(xcap.FileID)
	if n == nil {
		return nil, enoent(xcap.FileID)
	}
	n.stat.TruncateEpoch++
	return m.capability(n), nil
}

func (m *fakeMRC) UpdateFileSize(ctx context.Context, ep rpc.Endpoint, req *proto.UpdateFileSizeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["update_file_size"]++
	if m.failUpdates > 0 {
		m.failUpdates--
		return apierrors.NewApplication(apierrors.EIO, "size update rejected")
	}
	if req.CloseFile {
		m.closes++
	}
	n := m.byFileID(req.Cap.FileID)
	if n == nil {
		return nil
	}
	cur := &proto.WriteAttestation{TruncateEpoch: n.stat.TruncateEpoch, SizeInBytes: n.stat.Size}
	if proto.CompareWriteAttestations(req.Attestation, cur) > 0 {
		n.stat.Size = req.Attestation.SizeInBytes
		n.stat.TruncateEpoch = req.Attestation.TruncateEpoch
	}
	return nil
}

func (m *fakeMRC) GetXLocSet(ctx context.Context, ep rpc.Endpoint, req *proto.GetXLocSetRequest) (*proto.LocationSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["get_xlocset"]++
	xlocs, ok := m.xlocs[req.FileID]
	if !ok {
		return nil, enoent(req.FileID)
	}
	return xlocs, nil
}

func (m *fakeMRC) Listxattr(ctx context.Context, ep rpc.Endpoint, req *proto.ListxattrRequest) ([]*proto.XAttr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["listxattr"]++
	n, ok := m.nodes[req.Path]
	if !ok {
		return nil, enoent(req.Path)
	}
	xattrs := make([]*proto.XAttr, 0, len(n.xattrs))
	for name, value := range n.xattrs {
		xattrs = append(xattrs, &proto.XAttr{Name: name, Value: value})
	}
	sort.Slice(xattrs, func(i, j int) bool { return xattrs[i].Name < xattrs[j].Name })
	return xattrs, nil
}

func (m *fakeMRC) Setxattr(ctx context.Context, ep rpc.Endpoint, req *proto.SetxattrRequest) (*proto.TimestampResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["setxattr"]++
	n, ok := m.nodes[req.Path]
	if !ok {
		return nil, enoent(req.Path)
	}
	n.xattrs[req.Name] = req.Value
	return &proto.TimestampResponse{TimestampS: m.now()}, nil
}

func (m *fakeMRC) Removexattr(ctx context.Context, ep rpc.Endpoint, req *proto.RemovexattrRequest) (*proto.TimestampResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["removexattr"]++
	n, ok := m.nodes[req.Path]
	if !ok {
		return nil, enoent(req.Path)
	}
	if _, ok := n.xattrs[req.Name]; !ok {
		return nil, apierrors.ErrNoXAttr
	}
	delete(n.xattrs, req.Name)
	return &proto.TimestampResponse{TimestampS: m.now()}, nil
}

type fakeFile struct {
	objects map[uint64][]byte
	size    uint64
}

// fakeOSD stores the objects of every file on a single OSD.
type fakeOSD struct {
	mu    sync.Mutex
	files map[proto.FileID]*fakeFile
	locks map[proto.FileID][]*proto.Lock
	// staleViews fails that many requests with an outdated location set
	staleViews int
	unlinked   []proto.FileID
}

func newFakeOSD() *fakeOSD {
	return &fakeOSD{
		files: make(map[proto.FileID]*fakeFile),
		locks: make(map[proto.FileID][]*proto.Lock),
	}
}

func (o *fakeOSD) fileLocked(id proto.FileID) *fakeFile {
	f, ok := o.files[id]
	if !ok {
		f = &fakeFile{objects: make(map[uint64][]byte)}
		o.files[id] = f
	}
	return f
}

func (o *fakeOSD) staleLocked() error {
	if o.staleViews > 0 {
		o.staleViews--
		return apierrors.NewStaleView("view outdated")
	}
	return nil
}

func (o *fakeOSD) Read(ctx context.Context, ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.staleLocked(); err != nil {
		return nil, err
	}
	f := o.fileLocked(req.FileID)
	obj := f.objects[req.ObjectNumber]
	end := uint64(req.Offset) + uint64(req.Length)
	if end > uint64(len(obj)) {
		end = uint64(len(obj))
	}
	resp := &proto.ReadResponse{}
	if uint64(req.Offset) < end {
		resp.Data = append(resp.Data, obj[req.Offset:end]...)
	}
	start := req.ObjectNumber*testStripeSize + uint64(req.Offset)
	if want := start + uint64(req.Length); f.size > start {
		if want > f.size {
			want = f.size
		}
		if got := start + uint64(len(resp.Data)); want > got {
			resp.ZeroPadding = uint32(want - got)
		}
	}
	return resp, nil
}

func (o *fakeOSD) Write(ctx context.Context, ep rpc.Endpoint, req *proto.WriteRequest) (*proto.WriteAttestation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.staleLocked(); err != nil {
		return nil, err
	}
	f := o.fileLocked(req.FileID)
	obj := f.objects[req.ObjectNumber]
	if need := int(req.Offset) + len(req.Data); len(obj) < need {
		obj = append(obj, make([]byte, need-len(obj))...)
	}
	copy(obj[req.Offset:], req.Data)
	f.objects[req.ObjectNumber] = obj
	if end := req.ObjectNumber*testStripeSize + uint64(req.Offset) + uint64(len(req.Data)); end > f.size {
		f.size = end
	}
	return &proto.WriteAttestation{SizeInBytes: f.size, TruncateEpoch: req.Creds.Cap.TruncateEpoch}, nil
}

func (o *fakeOSD) Truncate(ctx context.Context, ep rpc.Endpoint, req *proto.TruncateRequest) (*proto.WriteAttestation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.staleLocked(); err != nil {
		return nil, err
	}
	f := o.fileLocked(req.FileID)
	for objNo, obj := range f.objects {
		start := objNo * testStripeSize
		switch {
		case start >= req.NewFileSize:
			delete(f.objects, objNo)
		case start+uint64(len(obj)) > req.NewFileSize:
			f.objects[objNo] = obj[:req.NewFileSize-start]
		}
	}
	f.size = req.NewFileSize
	return &proto.WriteAttestation{SizeInBytes: f.size, TruncateEpoch: req.Creds.Cap.TruncateEpoch}, nil
}

func (o *fakeOSD) Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.OSDUnlinkRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.files, req.FileID)
	o.unlinked = append(o.unlinked, req.FileID)
	return nil
}

func sameOwner(a, b *proto.Lock) bool {
	return a.ClientUUID == b.ClientUUID && a.ClientPID == b.ClientPID
}

func (o *fakeOSD) AcquireLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := req.Creds.Cap.FileID
	held := o.locks[id][:0:0]
	for _, l := range o.locks[id] {
		if l.ConflictsWith(req.Lock) {
			return nil, apierrors.ErrLockConflict
		}
		if !sameOwner(l, req.Lock) {
			held = append(held, l)
		}
	}
	granted := *req.Lock
	o.locks[id] = append(held, &granted)
	return &granted, nil
}

func (o *fakeOSD) CheckLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.locks[req.Creds.Cap.FileID] {
		if l.ConflictsWith(req.Lock) {
			return l, nil
		}
	}
	return req.Lock, nil
}

func (o *fakeOSD) ReleaseLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := req.Creds.Cap.FileID
	var held []*proto.Lock
	for _, l := range o.locks[id] {
		if !sameOwner(l, req.Lock) {
			held = append(held, l)
		}
	}
	o.locks[id] = held
	return nil
}

func (o *fakeOSD) lockCount(id proto.FileID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.locks[id])
}

type fakeDIR struct {
	mu      sync.Mutex
	lookups int
	ttl     uint32
}

func (d *fakeDIR) ServiceGetByUUID(ctx context.Context, ep rpc.Endpoint, uuid proto.ServiceUUID) ([]*proto.ServiceAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if uuid == "unknown" {
		return nil, nil
	}
	return []*proto.ServiceAddress{{UUID: uuid, Type: proto.ServiceTypeOSD, Address: "10.0.0.1", Port: 32640, TTL: d.ttl}}, nil
}
