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

package transport

import (
	"context"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
)

const osdService = "/xtreemfs.OSD/"

// OSDClient performs single attempts against storage servers.
type OSDClient struct {
	tr *Transport
}

func NewOSDClient(tr *Transport) *OSDClient {
	return &OSDClient{tr: tr}
}

func (c *OSDClient) Read(ctx context.Context, ep rpc.Endpoint, req *proto.ReadRequest) (*proto.ReadResponse, error) {
	resp := &proto.ReadResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, osdService+"read", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *OSDClient) Write(ctx context.Context, ep rpc.Endpoint, req *proto.WriteRequest) (*proto.WriteAttestation, error) {
	resp := &proto.WriteAttestation{}
	if err := c.tr.Invoke(ctx, ep.Address, osdService+"write", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *OSDClient) Truncate(ctx context.Context, ep rpc.Endpoint, req *proto.TruncateRequest) (*proto.WriteAttestation, error) {
	resp := &proto.WriteAttestation{}
	if err := c.tr.Invoke(ctx, ep.Address, osdService+"truncate", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *OSDClient) Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.OSDUnlinkRequest) error {
	return c.tr.Invoke(ctx, ep.Address, osdService+"unlink", req, &proto.EmptyResponse{})
}

func (c *OSDClient) AcquireLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error) {
	resp := &proto.LockResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, osdService+"xtreemfs_lock_acquire", req, resp); err != nil {
		return nil, err
	}
	if resp.Lock == nil {
		return nil, apierrors.NewInternalServer("lock acquire response without lock")
	}
	return resp.Lock, nil
}

func (c *OSDClient) CheckLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) (*proto.Lock, error) {
	resp := &proto.LockResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, osdService+"xtreemfs_lock_check", req, resp); err != nil {
		return nil, err
	}
	if resp.Lock == nil {
		return nil, apierrors.NewInternalServer("lock check response without lock")
	}
	return resp.Lock, nil
}

func (c *OSDClient) ReleaseLock(ctx context.Context, ep rpc.Endpoint, req *proto.LockRequest) error {
	return c.tr.Invoke(ctx, ep.Address, osdService+"xtreemfs_lock_release", req, &proto.EmptyResponse{})
}
