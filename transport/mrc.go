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

	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
)

const mrcService = "/xtreemfs.MRC/"

// MRCClient performs single attempts against a metadata service.
type MRCClient struct {
	tr *Transport
}

func NewMRCClient(tr *Transport) *MRCClient {
	return &MRCClient{tr: tr}
}

func (c *MRCClient) Getattr(ctx context.Context, ep rpc.Endpoint, req *proto.GetattrRequest) (*proto.Stat, error) {
	resp := &proto.GetattrResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"getattr", req, resp); err != nil {
		return nil, err
	}
	return resp.Stat, nil
}

func (c *MRCClient) Setattr(ctx context.Context, ep rpc.Endpoint, req *proto.SetattrRequest) (*proto.TimestampResponse, error) {
	resp := &proto.TimestampResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"setattr", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Fsetattr(ctx context.Context, ep rpc.Endpoint, req *proto.FsetattrRequest) error {
	return c.tr.Invoke(ctx, ep.Address, mrcService+"fsetattr", req, &proto.EmptyResponse{})
}

func (c *MRCClient) Readdir(ctx context.Context, ep rpc.Endpoint, req *proto.ReaddirRequest) ([]*proto.DirEntry, error) {
	resp := &proto.ReaddirResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"readdir", req, resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *MRCClient) Open(ctx context.Context, ep rpc.Endpoint, req *proto.OpenRequest) (*proto.OpenResponse, error) {
	resp := &proto.OpenResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"open", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Rename(ctx context.Context, ep rpc.Endpoint, req *proto.RenameRequest) (*proto.RenameResponse, error) {
	resp := &proto.RenameResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"rename", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Unlink(ctx context.Context, ep rpc.Endpoint, req *proto.UnlinkRequest) (*proto.UnlinkResponse, error) {
	resp := &proto.UnlinkResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"unlink", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Mkdir(ctx context.Context, ep rpc.Endpoint, req *proto.MkdirRequest) (*proto.TimestampResponse, error) {
	resp := &proto.TimestampResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"mkdir", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Rmdir(ctx context.Context, ep rpc.Endpoint, req *proto.RmdirRequest) (*proto.TimestampResponse, error) {
	resp := &proto.TimestampResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"rmdir", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) RenewCapability(ctx context.Context, ep rpc.Endpoint, xcap *proto.Capability) (*proto.Capability, error) {
	resp := &proto.Capability{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"xtreemfs_renew_capability", &proto.RenewCapabilityRequest{Cap: xcap}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Ftruncate(ctx context.Context, ep rpc.Endpoint, xcap *proto.Capability) (*proto.Capability, error) {
	resp := &proto.FtruncateResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"ftruncate", &proto.RenewCapabilityRequest{Cap: xcap}, resp); err != nil {
		return nil, err
	}
	return resp.Cap, nil
}

func (c *MRCClient) UpdateFileSize(ctx context.Context, ep rpc.Endpoint, req *proto.UpdateFileSizeRequest) error {
	return c.tr.Invoke(ctx, ep.Address, mrcService+"xtreemfs_update_file_size", req, &proto.EmptyResponse{})
}

func (c *MRCClient) GetXLocSet(ctx context.Context, ep rpc.Endpoint, req *proto.GetXLocSetRequest) (*proto.LocationSet, error) {
	resp := &proto.LocationSet{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"xtreemfs_get_xlocset", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Listxattr(ctx context.Context, ep rpc.Endpoint, req *proto.ListxattrRequest) ([]*proto.XAttr, error) {
	resp := &proto.ListxattrResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"listxattr", req, resp); err != nil {
		return nil, err
	}
	return resp.XAttrs, nil
}

func (c *MRCClient) Getxattr(ctx context.Context, ep rpc.Endpoint, req *proto.GetxattrRequest) (string, error) {
	resp := &proto.GetxattrResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"getxattr", req, resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (c *MRCClient) Setxattr(ctx context.Context, ep rpc.Endpoint, req *proto.SetxattrRequest) (*proto.TimestampResponse, error) {
	resp := &proto.TimestampResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"setxattr", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MRCClient) Removexattr(ctx context.Context, ep rpc.Endpoint, req *proto.RemovexattrRequest) (*proto.TimestampResponse, error) {
	resp := &proto.TimestampResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, mrcService+"removexattr", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
