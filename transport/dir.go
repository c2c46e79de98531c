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

const dirService = "/xtreemfs.DIR/"

// DIRClient looks up service registrations.
type DIRClient struct {
	tr *Transport
}

func NewDIRClient(tr *Transport) *DIRClient {
	return &DIRClient{tr: tr}
}

func (c *DIRClient) ServiceGetByUUID(ctx context.Context, ep rpc.Endpoint, uuid proto.ServiceUUID) ([]*proto.ServiceAddress, error) {
	resp := &proto.ServiceGetByUUIDResponse{}
	if err := c.tr.Invoke(ctx, ep.Address, dirService+"xtreemfs_service_get_by_uuid", &proto.ServiceGetByUUIDRequest{UUID: uuid}, resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}
