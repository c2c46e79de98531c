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

package replica

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
	"github.com/xtreemfs/xtreemfs-sub010/util"
	"github.com/xtreemfs/xtreemfs-sub010/util/limiter"
)

type fakeOSDs struct {
	mu      sync.Mutex
	objects map[string]map[uint64][]byte
	down    map[string]bool
	// readHook replaces the stored data when set
	readHook  func(ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error)
	truncated map[string]uint64
	unlinked  []string
	locks     map[string]*proto.Lock
	reads     int
}

func newFakeOSDs() *fakeOSDs {
	return &fakeOSDs{
		objects:   make(map[string]map[uint64][]byte),
		down:      make(map[string]bool),
		truncated: make(map[string]uint64),
		locks:     make(map[string]*proto.Lock),
	}
}

func (o *fakeOSDs) Read(ctx context.Context, ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reads++
	if o.down[ep.ID] {
		return nil, apierrors.NewTransport(errors.New("connection refused"))
	}
	if o.readHook != nil {
		return o.readHook(ep, req)
	}
	obj := o.objects[ep.ID][req.ObjectNumber]
	end := uint64(req.Offset) + uint64(req.Length)
	if end > uint64(len(obj)) {
		end = uint64(len(obj))
	}
	var data []byte
	if uint64(req.Offset) < end {
		data = append(data, obj[req.Offset:end]...)
	}
	return &proto.ReadResponse{Data: data}, nil
}

func (o *fakeOSDs) Write(ctx context.Context, ep rpc.Endpoint, req *proto.WriteRequest) (*proto.WriteAttestation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.down[ep.ID] {
		return nil, apierrors.NewTransport(errors.New("connection refused"))
	}
	objs, ok := o.objects[ep.ID]
	if !ok {
		objs = make(map[uint64][]byte)
		o.objects[ep.ID] = objs
	}
	obj := objs[req.ObjectNumber]
	end := int(req.Offset) + len(req.Data)
	if len(obj) < end {
		obj = append(obj, make([]byte, end-len(obj))...)
	}
	copy(obj[req.Offset:], req.Data)
	objs[req.ObjectNumber] = obj
	stripe := uint64(req.Creds.XLocs.Replicas[0].StripingPolicy.StripeSize)
	return &proto.WriteAttestation{SizeInBytes: req.ObjectNumber*stripe + uint64(end)}, nil
}

func (o *fakeOSDs) Truncate(ctx context.Context, ep rpc.Endpoint, req *proto.TruncateRequest) (*proto.WriteAttestation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.truncated[ep.ID] = req.NewFileSize
	return &proto.WriteAttestation{TruncateEpoch: req.Creds.Cap.TruncateEpoch, SizeInBytes: req.NewFileSize}, nil
}

func (o *fakeOSDs) Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.OSDUnlinkRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unlinked = append(o.unlinked, ep.ID)
	return nil
}

func (o *fakeOSDs) AcquireLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if held, ok := o.locks[ep.ID]; ok && req.Lock.ConflictsWith(held) {
		return nil, apierrors.ErrLockConflict
	}
	o.locks[ep.ID] = req.Lock
	return req.Lock, nil
}

func (o *fakeOSDs) CheckLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if held, ok := o.locks[ep.ID]; ok && req.Lock.ConflictsWith(held) {
		return held, nil
	}
	return req.Lock, nil
}

func (o *fakeOSDs) ReleaseLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.locks, ep.ID)
	return nil
}

type fakeTruncator struct{ epoch uint32 }

func (t *fakeTruncator) Ftruncate(ctx context.Context, xcap *proto.Capability) (*proto.Capability, error) {
	t.epoch++
	renewed := *xcap
	renewed.TruncateEpoch = t.epoch
	return &renewed, nil
}

type fakeFile struct {
	mu    sync.Mutex
	xcap  *proto.Capability
	xlocs *proto.LocationSet
	hint  int
	atts  []*proto.WriteAttestation
}

func (f *fakeFile) Capability() *proto.Capability { return f.xcap }

func (f *fakeFile) SetCapability(xcap *proto.Capability) { f.xcap = xcap }

func (f *fakeFile) LocationSet() *proto.LocationSet { return f.xlocs }

func (f *fakeFile) ReplicaHint() int { return f.hint }

func (f *fakeFile) SetReplicaHint(idx int) { f.hint = idx }

func (f *fakeFile) Reconcile(ctx context.Context, att *proto.WriteAttestation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.atts = append(f.atts, att)
	return nil
}

func locations(stripeSize uint32, replicas ...[]string) *proto.LocationSet {
	xlocs := &proto.LocationSet{Version: 1}
	for _, osds := range replicas {
		xlocs.Replicas = append(xlocs.Replicas, &proto.Replica{
			StripingPolicy: proto.StripingPolicy{
				Type:       proto.StripingPolicyRAID0,
				StripeSize: stripeSize,
				Width:      uint32(len(osds)),
			},
			OSDUUIDs: osds,
		})
	}
	return xlocs
}

func newTestIO(osds *fakeOSDs) (*IO, *fakeTruncator) {
	tr := &fakeTruncator{}
	tries := 3
	exec := rpc.NewExecutor(util.NewManualClock(time.Unix(0, 0)))
	lim := limiter.NewLimiter(limiter.LimitConfig{ReadConcurrency: 4, WriteConcurrency: 4})
	return NewIO(Config{MaxReadTries: &tries, MaxWriteTries: &tries, RetryDelayMs: 100, Fanout: 4}, osds, tr, exec, nil, lim), tr
}

func newFile(xlocs *proto.LocationSet) *fakeFile {
	return &fakeFile{xcap: &proto.Capability{FileID: "vol:42"}, xlocs: xlocs}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, n := range []int{1, 65536, 150000} {
		osds := newFakeOSDs()
		o, _ := newTestIO(osds)
		f := newFile(locations(65536, []string{"osd1", "osd2"}))
		data := randomBytes(n)

		written, err := o.Write(context.Background(), f, data, 10)
		require.NoError(t, err)
		require.Equal(t, n, written)

		buf := make([]byte, n)
		read, err := o.Read(context.Background(), f, buf, 10)
		require.NoError(t, err)
		require.Equal(t, n, read)
		require.True(t, bytes.Equal(data, buf))
	}
}

func TestWriteReconcilesGreatestAttestation(t *testing.T) {
	osds := newFakeOSDs()
	o, _ := newTestIO(osds)
	f := newFile(locations(65536, []string{"osd1", "osd2"}))

	_, err := o.Write(context.Background(), f, randomBytes(150000), 10)
	require.NoError(t, err)
	require.Equal(t, []*proto.WriteAttestation{{SizeInBytes: 150010}}, f.atts)

	// objects were placed round robin
	require.Len(t, osds.objects["osd1"], 2)
	require.Len(t, osds.objects["osd2"], 1)
}

func TestReadEndOfFile(t *testing.T) {
	osds := newFakeOSDs()
	o, _ := newTestIO(osds)
	f := newFile(locations(4096, []string{"osd1", "osd2", "osd3"}))
	data := randomBytes(10000)
	_, err := o.Write(context.Background(), f, data, 0)
	require.NoError(t, err)

	buf := make([]byte, 40000)
	n, err := o.Read(context.Background(), f, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 10000, n)
	require.Equal(t, data, buf[:n])

	n, err = o.Read(context.Background(), f, buf, 20000)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestReadSparsePadding(t *testing.T) {
	osds := newFakeOSDs()
	osds.readHook = func(ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error) {
		return &proto.ReadResponse{Data: bytes.Repeat([]byte{7}, 100), ZeroPadding: 50}, nil
	}
	o, _ := newTestIO(osds)
	f := newFile(locations(4096, []string{"osd1"}))

	buf := bytes.Repeat([]byte{0xff}, 200)
	n, err := o.Read(context.Background(), f, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 150, n)
	require.Equal(t, bytes.Repeat([]byte{7}, 100), buf[:100])
	require.Equal(t, make([]byte, 50), buf[100:150])
	require.Equal(t, byte(0xff), buf[150])

	osds.readHook = func(ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error) {
		return &proto.ReadResponse{Data: make([]byte, 100), ZeroPadding: 150}, nil
	}
	_, err = o.Read(context.Background(), f, make([]byte, 200), 0)
	require.Error(t, err)
	require.Equal(t, apierrors.EIO, apierrors.ErrnoOf(err))
}

func TestReadFailsOverToOtherReplica(t *testing.T) {
	osds := newFakeOSDs()
	o, _ := newTestIO(osds)
	f := newFile(locations(4096, []string{"a1", "a2"}, []string{"b1", "b2"}))
	data := randomBytes(8192)

	// replicate by writing through each replica in turn
	_, err := o.Write(context.Background(), f, data, 0)
	require.NoError(t, err)
	f.hint = 1
	_, err = o.Write(context.Background(), f, data, 0)
	require.NoError(t, err)
	f.hint = 0

	osds.down["a1"] = true
	osds.down["a2"] = true
	buf := make([]byte, 8192)
	n, err := o.Read(context.Background(), f, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 8192, n)
	require.Equal(t, data, buf)
	require.Equal(t, 1, f.hint)
}

func TestReadSelectedReplica(t *testing.T) {
	osds := newFakeOSDs()
	osds.readHook = func(ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error) {
		return &proto.ReadResponse{Data: make([]byte, req.Length), SelectedReplica: 3}, nil
	}
	o, _ := newTestIO(osds)
	f := newFile(locations(4096, []string{"a"}, []string{"b"}, []string{"c"}))
	_, err := o.Read(context.Background(), f, make([]byte, 10), 0)
	require.NoError(t, err)
	require.Equal(t, 2, f.hint)
}

func TestReadChunkFailureAbortsCall(t *testing.T) {
	osds := newFakeOSDs()
	o, _ := newTestIO(osds)
	f := newFile(locations(4096, []string{"osd1", "osd2"}))
	_, err := o.Write(context.Background(), f, randomBytes(8192), 0)
	require.NoError(t, err)

	osds.down["osd2"] = true
	n, err := o.Read(context.Background(), f, make([]byte, 8192), 0)
	require.Error(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, apierrors.KindTransport, apierrors.KindOf(err))
	require.Equal(t, 3, apierrors.AttemptsOf(err))
}

func TestUnsupportedStriping(t *testing.T) {
	o, _ := newTestIO(newFakeOSDs())
	xlocs := locations(4096, []string{"osd1"})
	xlocs.Replicas[0].StripingPolicy.Type = proto.StripingPolicyErasureCode
	_, err := o.Read(context.Background(), newFile(xlocs), make([]byte, 10), 0)
	require.True(t, apierrors.Is(err, apierrors.ErrStripingNotSupported))

	_, err = o.Write(context.Background(), newFile(&proto.LocationSet{}), make([]byte, 10), 0)
	require.True(t, apierrors.Is(err, apierrors.ErrNoReplica))
}

func TestTruncate(t *testing.T) {
	osds := newFakeOSDs()
	o, tr := newTestIO(osds)
	f := newFile(locations(4096, []string{"osd1", "osd2"}, []string{"osd3", "osd4"}))
	f.hint = 1

	require.NoError(t, o.Truncate(context.Background(), f, 5000))
	require.Equal(t, uint32(1), tr.epoch)
	require.Equal(t, uint32(1), f.Capability().TruncateEpoch)
	require.Equal(t, map[string]uint64{"osd3": 5000}, osds.truncated)
	require.Equal(t, []*proto.WriteAttestation{{TruncateEpoch: 1, SizeInBytes: 5000}}, f.atts)
}

func TestUnlinkAndLocks(t *testing.T) {
	osds := newFakeOSDs()
	o, _ := newTestIO(osds)
	xlocs := locations(4096, []string{"osd1", "osd2"}, []string{"osd3"})
	require.NoError(t, o.Unlink(context.Background(), &proto.FileCredentials{Cap: &proto.Capability{FileID: "vol:1"}, XLocs: xlocs}))
	require.Equal(t, []string{"osd1", "osd3"}, osds.unlinked)

	f := newFile(xlocs)
	mine := &proto.Lock{ClientUUID: "c", ClientPID: 1, Length: 10, Exclusive: true}
	got, err := o.AcquireLock(context.Background(), f, mine)
	require.NoError(t, err)
	require.Equal(t, mine, got)

	other := &proto.Lock{ClientUUID: "c", ClientPID: 2, Length: 10, Exclusive: true}
	got, err = o.CheckLock(context.Background(), f, other)
	require.NoError(t, err)
	require.Equal(t, mine, got)
	_, err = o.AcquireLock(context.Background(), f, other)
	require.True(t, apierrors.Is(err, apierrors.ErrLockConflict))

	require.NoError(t, o.ReleaseLock(context.Background(), f, mine))
	_, err = o.AcquireLock(context.Background(), f, other)
	require.NoError(t, err)
}
