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

// Package lease keeps the capabilities of open files valid by renewing them
// shortly before they expire.
package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/xtreemfs/xtreemfs-sub010/metrics"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

const defaultRenewWorkers = 4

// Renewer asks the metadata service for a fresh capability.
type Renewer interface {
	RenewCapability(ctx context.Context, xcap *proto.Capability) (*proto.Capability, error)
}

type Config struct {
	// SafetyMarginS is how long before expiry a renewal is started.
	SafetyMarginS int `json:"safety_margin_s" yaml:"safety_margin_s"`
	RenewWorkers  int `json:"renew_workers" yaml:"renew_workers"`
	// RenewTimeoutMs bounds one renewal, 0 leaves it unbounded.
	RenewTimeoutMs int `json:"renew_timeout_ms" yaml:"renew_timeout_ms"`
}

// Manager schedules renewals for all leases of one client. Renewals run on a
// bounded task pool, never on the timer goroutine.
type Manager struct {
	renewer      Renewer
	clock        util.Clock
	margin       time.Duration
	renewTimeout time.Duration
	pool         taskpool.TaskPool
}

func NewManager(cfg Config, renewer Renewer, clock util.Clock) *Manager {
	if clock == nil {
		clock = util.NewClock()
	}
	margin := time.Duration(cfg.SafetyMarginS) * time.Second
	if cfg.SafetyMarginS <= 0 {
		margin = proto.MinCapabilityTimeout
	}
	workers := cfg.RenewWorkers
	if workers <= 0 {
		workers = defaultRenewWorkers
	}
	return &Manager{
		renewer:      renewer,
		clock:        clock,
		margin:       margin,
		renewTimeout: time.Duration(cfg.RenewTimeoutMs) * time.Millisecond,
		pool:         taskpool.New(workers, workers),
	}
}

// Start begins tracking xcap and returns the lease that owns it from now on.
func (m *Manager) Start(xcap *proto.Capability) *Lease {
	l := &Lease{m: m}
	l.xcap.Store(xcap)
	l.schedule(xcap)
	return l
}

func (m *Manager) Close() {
	m.pool.Close()
}

// Lease holds the current capability of one open file. The capability is
// only ever replaced as a whole, so readers need no lock.
type Lease struct {
	m      *Manager
	xcap   atomic.Value
	closed int32

	mu    sync.Mutex
	timer util.Timer
}

func (l *Lease) Capability() *proto.Capability {
	return l.xcap.Load().(*proto.Capability)
}

// Set replaces the capability, e.g. with the one returned by a truncate.
// The pending renewal is kept.
func (l *Lease) Set(xcap *proto.Capability) {
	l.xcap.Store(xcap)
}

func (l *Lease) isClosed() bool {
	return atomic.LoadInt32(&l.closed) == 1
}

// schedule arms a one-shot timer for xcap. Every renewal may grant a
// different lease length, so timers are chained rather than periodic.
func (l *Lease) schedule(xcap *proto.Capability) {
	timeout := xcap.ExpireTimeout()
	if timeout <= l.m.margin {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosed() {
		return
	}
	l.timer = l.m.clock.AfterFunc(timeout-l.m.margin, l.fire)
}

func (l *Lease) fire() {
	if l.isClosed() {
		return
	}
	l.m.pool.Run(l.renew)
}

func (l *Lease) renew() {
	if l.isClosed() {
		return
	}
	old := l.Capability()
	span, ctx := trace.StartSpanFromContext(context.Background(), "renew_capability")
	if l.m.renewTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.m.renewTimeout)
		defer cancel()
	}

	xcap, err := l.m.renewer.RenewCapability(ctx, old)
	if err == nil && xcap == nil {
		err = errors.New("empty capability")
	}
	if err != nil {
		// the next data operation fails on the expired capability instead
		span.Warnf("renew capability of file %s failed: %s", old.FileID, err)
		metrics.CapabilityRenewals.WithLabelValues("failed").Inc()
		return
	}
	metrics.CapabilityRenewals.WithLabelValues("ok").Inc()
	if l.isClosed() {
		return
	}
	if !l.xcap.CompareAndSwap(old, xcap) {
		// replaced while renewing, the newer one wins
		span.Debugf("capability of file %s replaced during renewal", old.FileID)
		l.schedule(l.Capability())
		return
	}
	span.Debugf("renewed capability of file %s, expires at %s", xcap.FileID, xcap.ExpireTime)
	l.schedule(xcap)
}

// Close stops renewing. A timer that already fired finds the closed flag
// and does nothing.
func (l *Lease) Close() {
	atomic.StoreInt32(&l.closed, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
