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

// Package replica moves file data between the client and the OSDs of a
// replica. A request is cut into stripe objects that are transferred in
// parallel.
package replica

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/metrics"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
	"github.com/xtreemfs/xtreemfs-sub010/striping"
	"github.com/xtreemfs/xtreemfs-sub010/util"
	"github.com/xtreemfs/xtreemfs-sub010/util/limiter"
)

const defaultFanout = 16

// OSDClient performs single attempts against one OSD.
type OSDClient interface {
	Read(ctx context.Context, ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error)
	Write(ctx context.Context, ep rpc.Endpoint, req *proto.WriteRequest) (*proto.WriteAttestation, error)
	Truncate(ctx context.Context, ep rpc.Endpoint, req *proto.TruncateRequest) (*proto.WriteAttestation, error)
	Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.OSDUnlinkRequest) error
	AcquireLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error)
	CheckLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error)
	ReleaseLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) error
}

// Truncator obtains the capability that authorizes a truncate from the
// metadata service.
type Truncator interface {
	Ftruncate(ctx context.Context, xcap *proto.Capability) (*proto.Capability, error)
}

// File is the per handle state the data path works on.
type File interface {
	Capability() *proto.Capability
	SetCapability(xcap *proto.Capability)
	LocationSet() *proto.LocationSet
	// ReplicaHint is the index of the replica that served the last request.
	ReplicaHint() int
	SetReplicaHint(idx int)
	// Reconcile records the winning attestation of a write or truncate and
	// pushes it to the metadata service.
	Reconcile(ctx context.Context, att *proto.WriteAttestation) error
}

type Config struct {
	// MaxReadTries and MaxWriteTries bound object calls, nil or 0 retries forever.
	MaxReadTries  *int `json:"max_read_tries" yaml:"max_read_tries"`
	MaxWriteTries *int `json:"max_write_tries" yaml:"max_write_tries"`
	RetryDelayMs  int  `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	// Fanout bounds the object requests one call keeps in flight.
	Fanout int `json:"fanout" yaml:"fanout"`
}

type IO struct {
	osd     OSDClient
	mrc     Truncator
	exec    *rpc.Executor
	lookup  rpc.AddressLookup
	limiter limiter.Limiter

	readOpts  rpc.Options
	writeOpts rpc.Options
	fanout    int
}

// NewIO returns the data path. lookup resolves OSD uuids and may be nil when
// uuids are addresses; lim may be nil.
func NewIO(cfg Config, osd OSDClient, mrc Truncator, exec *rpc.Executor, lookup rpc.AddressLookup, lim limiter.Limiter) *IO {
	if lim == nil {
		lim = limiter.NewLimiter(limiter.LimitConfig{})
	}
	fanout := cfg.Fanout
	if fanout <= 0 {
		fanout = defaultFanout
	}
	delay := time.Duration(cfg.RetryDelayMs) * time.Millisecond
	return &IO{
		osd:       osd,
		mrc:       mrc,
		exec:      exec,
		lookup:    lookup,
		limiter:   lim,
		readOpts:  rpc.Options{Service: "osd", MaxTries: triesOf(cfg.MaxReadTries), RetryDelay: delay},
		writeOpts: rpc.Options{Service: "osd", MaxTries: triesOf(cfg.MaxWriteTries), RetryDelay: delay},
		fanout:    fanout,
	}
}

func triesOf(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// target lists, per stripe object, the OSD of every replica starting with
// the hinted one.
type target struct {
	ids      []string
	replicas []int
}

func newTarget(xlocs *proto.LocationSet, hint int, objNo uint64) target {
	n := len(xlocs.Replicas)
	t := target{}
	for i := 0; i < n; i++ {
		r := (hint + i) % n
		replica := xlocs.Replicas[r]
		width := uint64(len(replica.OSDUUIDs))
		if width == 0 {
			continue
		}
		t.ids = append(t.ids, replica.OSDUUIDs[objNo%width])
		t.replicas = append(t.replicas, r)
	}
	return t
}

func (t target) replicaOf(id string) int {
	for i, candidate := range t.ids {
		if candidate == id {
			return t.replicas[i]
		}
	}
	return -1
}

func layout(f File) (*proto.LocationSet, int, error) {
	xlocs := f.LocationSet()
	if xlocs == nil || len(xlocs.Replicas) == 0 {
		return nil, 0, apierrors.ErrNoReplica
	}
	hint := f.ReplicaHint()
	if hint < 0 || hint >= len(xlocs.Replicas) {
		hint = 0
	}
	return xlocs, hint, nil
}

type readResult struct {
	chunk    striping.Chunk
	received uint64
	replica  int
}

// Read fills buf from offset and returns the number of bytes read. A short
// count means end of file.
func (o *IO) Read(ctx context.Context, f File, buf []byte, offset uint64) (int, error) {
	span := trace.SpanFromContextSafe(ctx)
	xlocs, hint, err := layout(f)
	if err != nil {
		return 0, err
	}
	it, err := striping.Chunks(xlocs.Replicas[hint].StripingPolicy, offset, uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	creds := &proto.FileCredentials{Cap: f.Capability(), XLocs: xlocs}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []readResult
		// set once a chunk came back short or failed, later chunks are not issued
		stop uint32
	)
	g.SetLimit(o.fanout)
	for it.Next() {
		if atomic.LoadUint32(&stop) == 1 {
			break
		}
		chunk := it.Chunk()
		g.Go(func() error {
			res, err := o.readChunk(ctx, creds, xlocs, hint, chunk, buf[chunk.BufOffset:chunk.BufOffset+uint64(chunk.Length)])
			if err != nil {
				atomic.StoreUint32(&stop, 1)
				return err
			}
			if res.received < uint64(chunk.Length) {
				atomic.StoreUint32(&stop, 1)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.Warnf("read of file %s at %d failed: %s", creds.Cap.FileID, offset, err)
		return 0, err
	}

	// responses complete in any order, the first short chunk ends the file
	sort.Slice(results, func(i, j int) bool {
		return results[i].chunk.FileOffset < results[j].chunk.FileOffset
	})
	var total uint64
	served := -1
	for _, res := range results {
		if res.chunk.BufOffset != total {
			break
		}
		total += res.received
		if served < 0 {
			served = res.replica
		}
		if res.received < uint64(res.chunk.Length) {
			break
		}
	}
	if served >= 0 && served != hint {
		f.SetReplicaHint(served)
	}
	return int(total), nil
}

func (o *IO) readChunk(ctx context.Context, creds *proto.FileCredentials, xlocs *proto.LocationSet,
	hint int, chunk striping.Chunk, dst []byte,
) (readResult, error) {
	if err := o.limiter.AcquireRead(ctx, int(chunk.Length)); err != nil {
		return readResult{}, apierrors.NewCancelled(0, err)
	}
	defer o.limiter.ReleaseRead()
	metrics.ChunkRequests.WithLabelValues("read").Inc()

	t := newTarget(xlocs, hint, chunk.ObjectNumber)
	resolver := rpc.NewResolver(t.ids, o.lookup)
	req := &proto.ReadRequest{
		Creds:        creds,
		FileID:       creds.Cap.FileID,
		ObjectNumber: chunk.ObjectNumber,
		Offset:       chunk.ObjectOffset,
		Length:       chunk.Length,
	}
	var servedBy string
	ret, _, err := o.exec.Do(ctx, resolver, o.readOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		servedBy = ep.ID
		return o.osd.Read(ctx, ep, req)
	})
	if err != nil {
		return readResult{}, err
	}
	resp := ret.(*proto.ReadResponse)

	dataLen := uint64(len(resp.Data))
	if dataLen > uint64(len(dst)) || dataLen+uint64(resp.ZeroPadding) > uint64(len(dst)) {
		return readResult{}, apierrors.ErrPaddingOverflow
	}
	copy(dst, resp.Data)
	util.Zero(dst[dataLen : dataLen+uint64(resp.ZeroPadding)])
	received := dataLen + uint64(resp.ZeroPadding)
	metrics.ChunkBytes.WithLabelValues("read").Add(float64(received))

	replica := t.replicaOf(servedBy)
	if resp.SelectedReplica > 0 && int(resp.SelectedReplica) <= len(xlocs.Replicas) {
		replica = int(resp.SelectedReplica) - 1
	}
	return readResult{chunk: chunk, received: received, replica: replica}, nil
}

// Write stores buf at offset and returns len(buf). The greatest attestation
// returned by the OSDs is handed to f.Reconcile before returning.
func (o *IO) Write(ctx context.Context, f File, buf []byte, offset uint64) (int, error) {
	span := trace.SpanFromContextSafe(ctx)
	xlocs, hint, err := layout(f)
	if err != nil {
		return 0, err
	}
	it, err := striping.Chunks(xlocs.Replicas[hint].StripingPolicy, offset, uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	creds := &proto.FileCredentials{Cap: f.Capability(), XLocs: xlocs}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		atts    []*proto.WriteAttestation
		written uint64
		failed  uint32
	)
	g.SetLimit(o.fanout)
	for it.Next() {
		if atomic.LoadUint32(&failed) == 1 {
			break
		}
		chunk := it.Chunk()
		data := buf[chunk.BufOffset : chunk.BufOffset+uint64(chunk.Length)]
		g.Go(func() error {
			att, err := o.writeChunk(ctx, creds, xlocs, hint, chunk, data)
			if err != nil {
				atomic.StoreUint32(&failed, 1)
				return err
			}
			mu.Lock()
			atts = append(atts, att)
			written += uint64(chunk.Length)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.Warnf("write of file %s at %d failed: %s", creds.Cap.FileID, offset, err)
		return 0, err
	}

	if winner := proto.MaxWriteAttestation(atts...); winner != nil {
		if err := f.Reconcile(ctx, winner); err != nil {
			return 0, err
		}
	}
	return int(written), nil
}

func (o *IO) writeChunk(ctx context.Context, creds *proto.FileCredentials, xlocs *proto.LocationSet,
	hint int, chunk striping.Chunk, data []byte,
) (*proto.WriteAttestation, error) {
	if err := o.limiter.AcquireWrite(ctx, len(data)); err != nil {
		return nil, apierrors.NewCancelled(0, err)
	}
	defer o.limiter.ReleaseWrite()
	metrics.ChunkRequests.WithLabelValues("write").Inc()

	resolver := rpc.NewResolver(newTarget(xlocs, hint, chunk.ObjectNumber).ids, o.lookup)
	req := &proto.WriteRequest{
		Creds:        creds,
		FileID:       creds.Cap.FileID,
		ObjectNumber: chunk.ObjectNumber,
		Offset:       chunk.ObjectOffset,
		Data:         data,
	}
	ret, _, err := o.exec.Do(ctx, resolver, o.writeOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return o.osd.Write(ctx, ep, req)
	})
	if err != nil {
		return nil, err
	}
	metrics.ChunkBytes.WithLabelValues("write").Add(float64(len(data)))
	att, _ := ret.(*proto.WriteAttestation)
	return att, nil
}

// headResolver targets the OSDs holding object 0, one per replica.
func (o *IO) headResolver(xlocs *proto.LocationSet, hint int) *rpc.Resolver {
	return rpc.NewResolver(newTarget(xlocs, hint, 0).ids, o.lookup)
}

// Truncate sets the file size to newSize. The metadata service issues the
// capability that authorizes it; that capability replaces the handle's one.
func (o *IO) Truncate(ctx context.Context, f File, newSize uint64) error {
	xcap, err := o.mrc.Ftruncate(ctx, f.Capability())
	if err != nil {
		return err
	}
	f.SetCapability(xcap)
	return o.TruncateObjects(ctx, f, newSize)
}

// TruncateObjects truncates at the head OSD with the handle's current
// capability, which must already authorize the truncate.
func (o *IO) TruncateObjects(ctx context.Context, f File, newSize uint64) error {
	xlocs, hint, err := layout(f)
	if err != nil {
		return err
	}
	xcap := f.Capability()
	req := &proto.TruncateRequest{
		Creds:       &proto.FileCredentials{Cap: xcap, XLocs: xlocs},
		FileID:      xcap.FileID,
		NewFileSize: newSize,
	}
	ret, _, err := o.exec.Do(ctx, o.headResolver(xlocs, hint), o.writeOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return o.osd.Truncate(ctx, ep, req)
	})
	if err != nil {
		return err
	}
	if att, _ := ret.(*proto.WriteAttestation); att != nil {
		return f.Reconcile(ctx, att)
	}
	return nil
}

// Unlink deletes the objects of a removed file on the head OSD of every
// replica.
func (o *IO) Unlink(ctx context.Context, creds *proto.FileCredentials) error {
	if creds == nil || creds.XLocs == nil || creds.Cap == nil {
		return nil
	}
	req := &proto.OSDUnlinkRequest{Creds: creds, FileID: creds.Cap.FileID}
	for i := range creds.XLocs.Replicas {
		head, ok := creds.XLocs.HeadOSD(i)
		if !ok {
			continue
		}
		resolver := rpc.NewResolver([]string{string(head)}, o.lookup)
		_, _, err := o.exec.Do(ctx, resolver, o.writeOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
			return nil, o.osd.Unlink(ctx, ep, req)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *IO) lockRequest(f File, lock *proto.Lock) (*proto.LockRequest, *rpc.Resolver, error) {
	xlocs, hint, err := layout(f)
	if err != nil {
		return nil, nil, err
	}
	req := &proto.LockRequest{Creds: &proto.FileCredentials{Cap: f.Capability(), XLocs: xlocs}, Lock: lock}
	return req, o.headResolver(xlocs, hint), nil
}

// AcquireLock asks the head OSD for lock and returns the lock granted.
func (o *IO) AcquireLock(ctx context.Context, f File, lock *proto.Lock) (*proto.Lock, error) {
	req, resolver, err := o.lockRequest(f, lock)
	if err != nil {
		return nil, err
	}
	ret, _, err := o.exec.Do(ctx, resolver, o.writeOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return o.osd.AcquireLock(ctx, ep, req)
	})
	if err != nil {
		return nil, err
	}
	return ret.(*proto.Lock), nil
}

// CheckLock returns lock itself if it could be granted, the conflicting lock
// otherwise.
func (o *IO) CheckLock(ctx context.Context, f File, lock *proto.Lock) (*proto.Lock, error) {
	req, resolver, err := o.lockRequest(f, lock)
	if err != nil {
		return nil, err
	}
	ret, _, err := o.exec.Do(ctx, resolver, o.readOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return o.osd.CheckLock(ctx, ep, req)
	})
	if err != nil {
		return nil, err
	}
	return ret.(*proto.Lock), nil
}

func (o *IO) ReleaseLock(ctx context.Context, f File, lock *proto.Lock) error {
	req, resolver, err := o.lockRequest(f, lock)
	if err != nil {
		return err
	}
	_, _, err = o.exec.Do(ctx, resolver, o.writeOpts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return nil, o.osd.ReleaseLock(ctx, ep, req)
	})
	return err
}
