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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/xtreemfs/xtreemfs-sub010/cache"
	"github.com/xtreemfs/xtreemfs-sub010/lease"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/replica"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
	"github.com/xtreemfs/xtreemfs-sub010/transport"
	"github.com/xtreemfs/xtreemfs-sub010/util"
	"github.com/xtreemfs/xtreemfs-sub010/util/limiter"
)

// MRC is the metadata service, one attempt per call.
type MRC interface {
	Getattr(ctx context.Context, ep rpc.Endpoint, req *proto.GetattrRequest) (*proto.Stat, error)
	Setattr(ctx context.Context, ep rpc.Endpoint, req *proto.SetattrRequest) (*proto.TimestampResponse, error)
	Fsetattr(ctx context.Context, ep rpc.Endpoint, req *proto.FsetattrRequest) error
	Readdir(ctx context.Context, ep rpc.Endpoint, req *proto.ReaddirRequest) ([]*proto.DirEntry, error)
	Open(ctx context.Context, ep rpc.Endpoint, req *proto.OpenRequest) (*proto.OpenResponse, error)
	Rename(ctx context.Context, ep rpc.Endpoint, req *proto.RenameRequest) (*proto.RenameResponse, error)
	Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.UnlinkRequest) (*proto.UnlinkResponse, error)
	Mkdir(ctx context.Context, ep rpc.Endpoint, req *proto.MkdirRequest) (*proto.TimestampResponse, error)
	Rmdir(ctx context.Context, ep rpc.Endpoint, req *proto.RmdirRequest) (*proto.TimestampResponse, error)
	RenewCapability(ctx context.Context, ep rpc.Endpoint, xcap *proto.Capability) (*proto.Capability, error)
	Ftruncate(ctx context.Context, ep rpc.Endpoint, xcap *proto.Capability) (*proto.Capability, error)
	UpdateFileSize(ctx context.Context, ep rpc.Endpoint, req *proto.UpdateFileSizeRequest) error
	GetXLocSet(ctx context.Context, ep rpc.Endpoint, req *proto.GetXLocSetRequest) (*proto.LocationSet, error)
	Listxattr(ctx context.Context, ep rpc.Endpoint, req *proto.ListxattrRequest) ([]*proto.XAttr, error)
	Setxattr(ctx context.Context, ep rpc.Endpoint, req *proto.SetxattrRequest) (*proto.TimestampResponse, error)
	Removexattr(ctx context.Context, ep rpc.Endpoint, req *proto.RemovexattrRequest) (*proto.TimestampResponse, error)
}

// DIR is the directory service that maps service uuids to addresses.
type DIR interface {
	ServiceGetByUUID(ctx context.Context, ep rpc.Endpoint, uuid proto.ServiceUUID) ([]*proto.ServiceAddress, error)
}

// Client owns everything shared by the volumes of one mount: the transport,
// the retry executor, the capability renewals and the data path.
type Client struct {
	cfg        Config
	clientUUID string
	clock      util.Clock
	tr         *transport.Transport

	mrc     MRC
	exec    *rpc.Executor
	mrcs    *rpc.Resolver
	mrcOpts rpc.Options
	uuids   *uuidResolver
	leases  *lease.Manager
	io      *replica.IO
	limiter limiter.Limiter
}

// New dials nothing up front; connections are opened on first use.
func New(cfg *Config) (*Client, error) {
	c := *cfg
	c.fillDefault()
	if err := c.validate(); err != nil {
		return nil, err
	}
	tr, err := transport.New(c.Transport)
	if err != nil {
		return nil, err
	}
	var dir DIR
	if len(c.DIRAddresses) > 0 {
		dir = transport.NewDIRClient(tr)
	}
	cli := newClient(&c, transport.NewMRCClient(tr), transport.NewOSDClient(tr), dir, util.NewClock())
	cli.tr = tr
	return cli, nil
}

// newClient wires the client from already constructed services. cfg must
// carry defaults.
func newClient(cfg *Config, mrc MRC, osd replica.OSDClient, dir DIR, clock util.Clock) *Client {
	exec := rpc.NewExecutor(clock)
	c := &Client{
		cfg:        *cfg,
		clientUUID: util.GenClientUUID(),
		clock:      clock,
		mrc:        mrc,
		exec:       exec,
		mrcs:       rpc.NewResolver(cfg.MRCAddresses, nil),
		mrcOpts: rpc.Options{
			Service:      "mrc",
			MaxTries:     *cfg.MaxTries,
			RetryDelay:   time.Duration(cfg.RetryDelayMs) * time.Millisecond,
			MaxRedirects: cfg.MaxRedirects,
		},
		limiter: limiter.NewLimiter(cfg.Limit),
	}
	var lookup rpc.AddressLookup
	if dir != nil {
		c.uuids = newUUIDResolver(dir, exec, cfg, clock)
		lookup = c.uuids
	}
	c.leases = lease.NewManager(cfg.Lease, mrcRenewer{c}, clock)
	c.io = replica.NewIO(cfg.Replica, osd, mrcRenewer{c}, exec, lookup, c.limiter)
	return c
}

func (c *Client) ClientUUID() string {
	return c.clientUUID
}

// OpenVolume returns a handle on the named volume. Every call returns a new
// Volume with its own metadata cache.
func (c *Client) OpenVolume(name string) *Volume {
	if name == "" {
		name = c.cfg.VolumeName
	}
	return newVolume(c, name, cache.NewMetadataCache(c.cfg.Cache, c.clock))
}

func (c *Client) Close() error {
	c.leases.Close()
	if c.tr != nil {
		return c.tr.Close()
	}
	return nil
}

// mrcCall runs call against the metadata replicas with retry and redirect
// following. The replica that answered last is tried first.
func (c *Client) mrcCall(ctx context.Context, call rpc.CallFunc) (interface{}, error) {
	ret, _, err := c.exec.Do(ctx, c.mrcs, c.mrcOpts, call)
	return ret, err
}

// mrcRenewer adapts the metadata service to the lease and data paths.
type mrcRenewer struct {
	c *Client
}

func (r mrcRenewer) RenewCapability(ctx context.Context, xcap *proto.Capability) (*proto.Capability, error) {
	ret, err := r.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return r.c.mrc.RenewCapability(ctx, ep, xcap)
	})
	if err != nil {
		return nil, err
	}
	return ret.(*proto.Capability), nil
}

func (r mrcRenewer) Ftruncate(ctx context.Context, xcap *proto.Capability) (*proto.Capability, error) {
	ret, err := r.c.mrcCall(ctx, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
		return r.c.mrc.Ftruncate(ctx, ep, xcap)
	})
	if err != nil {
		return nil, err
	}
	return ret.(*proto.Capability), nil
}

// startSpan continues the caller's trace or opens a new one.
func startSpan(ctx context.Context, op string) (trace.Span, context.Context) {
	if trace.SpanFromContext(ctx) != nil {
		return trace.StartSpanFromContext(ctx, op)
	}
	return trace.StartSpanFromContextWithTraceID(ctx, op, util.GenTraceID())
}
