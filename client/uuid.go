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
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/rpc"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

type cachedAddress struct {
	address string
	expire  time.Time
}

// uuidResolver maps OSD uuids to addresses through the DIR. Lookups of the
// same uuid share one request.
type uuidResolver struct {
	dir   DIR
	exec  *rpc.Executor
	dirs  *rpc.Resolver
	opts  rpc.Options
	clock util.Clock
	ttl   time.Duration

	singleRun singleflight.Group
	mu        sync.RWMutex
	addresses map[string]cachedAddress
}

func newUUIDResolver(dir DIR, exec *rpc.Executor, cfg *Config, clock util.Clock) *uuidResolver {
	return &uuidResolver{
		dir:   dir,
		exec:  exec,
		dirs:  rpc.NewResolver(cfg.DIRAddresses, nil),
		clock: clock,
		ttl:   time.Duration(cfg.UUIDCacheTTLS) * time.Second,
		opts: rpc.Options{
			Service:      "dir",
			MaxTries:     *cfg.MaxTries,
			RetryDelay:   time.Duration(cfg.RetryDelayMs) * time.Millisecond,
			MaxRedirects: cfg.MaxRedirects,
		},
		addresses: make(map[string]cachedAddress),
	}
}

func (r *uuidResolver) cached(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ca, ok := r.addresses[id]
	if !ok || r.clock.Now().After(ca.expire) {
		return "", false
	}
	return ca.address, true
}

func (r *uuidResolver) Lookup(ctx context.Context, id string) (string, error) {
	if addr, ok := r.cached(id); ok {
		return addr, nil
	}
	span := trace.SpanFromContextSafe(ctx)
	ret, err, _ := r.singleRun.Do(id, func() (interface{}, error) {
		ret, _, err := r.exec.Do(ctx, r.dirs, r.opts, func(ctx context.Context, ep rpc.Endpoint) (interface{}, error) {
			return r.dir.ServiceGetByUUID(ctx, ep, proto.ServiceUUID(id))
		})
		if err != nil {
			return nil, err
		}
		services, _ := ret.([]*proto.ServiceAddress)
		if len(services) == 0 {
			return nil, apierrors.ErrUnknownService
		}
		svc := services[0]
		addr := net.JoinHostPort(svc.Address, strconv.Itoa(int(svc.Port)))
		ttl := r.ttl
		if svc.TTL > 0 {
			ttl = time.Duration(svc.TTL) * time.Second
		}
		r.mu.Lock()
		r.addresses[id] = cachedAddress{address: addr, expire: r.clock.Now().Add(ttl)}
		r.mu.Unlock()
		return addr, nil
	})
	if err != nil {
		span.Warnf("resolve uuid %s failed: %s", id, err)
		return "", err
	}
	span.Debugf("resolved uuid %s to %s", id, ret)
	return ret.(string), nil
}
