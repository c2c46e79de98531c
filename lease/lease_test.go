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

package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

type fakeRenewer struct {
	mu      sync.Mutex
	calls   int
	timeout uint32
	err     error
	called  chan struct{}
	// during runs inside the renewal call
	during func()
}

func newFakeRenewer(timeoutS uint32) *fakeRenewer {
	return &fakeRenewer{timeout: timeoutS, called: make(chan struct{}, 16)}
}

func (r *fakeRenewer) RenewCapability(ctx context.Context, xcap *proto.Capability) (*proto.Capability, error) {
	r.mu.Lock()
	r.calls++
	err := r.err
	renewed := *xcap
	renewed.ExpireTimeoutS = r.timeout
	renewed.Signature = xcap.Signature + "+"
	during := r.during
	r.mu.Unlock()
	defer func() { r.called <- struct{}{} }()
	if during != nil {
		during()
	}
	if err != nil {
		return nil, err
	}
	return &renewed, nil
}

func (r *fakeRenewer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestManager(r Renewer) (*Manager, *util.ManualClock) {
	clock := util.NewManualClock(time.Unix(1700000000, 0))
	return NewManager(Config{SafetyMarginS: 30}, r, clock), clock
}

func capability(timeoutS uint32) *proto.Capability {
	return &proto.Capability{FileID: "vol:1", ExpireTimeoutS: timeoutS, Signature: "s"}
}

func waitCall(t *testing.T, r *fakeRenewer) {
	select {
	case <-r.called:
	case <-time.After(5 * time.Second):
		t.Fatal("renewal not called")
	}
}

func TestLeaseRenewChained(t *testing.T) {
	r := newFakeRenewer(60)
	m, clock := newTestManager(r)
	defer m.Close()

	l := m.Start(capability(31))
	require.Equal(t, 1, clock.PendingTimers())
	next, _ := clock.NextDeadline()
	require.Equal(t, clock.Now().Add(time.Second), next)

	clock.Advance(time.Second)
	waitCall(t, r)
	require.Eventually(t, func() bool { return clock.PendingTimers() == 1 }, 5*time.Second, time.Millisecond)
	require.Equal(t, "s+", l.Capability().Signature)
	require.Equal(t, uint32(60), l.Capability().ExpireTimeoutS)

	next, _ = clock.NextDeadline()
	require.Equal(t, clock.Now().Add(30*time.Second), next)
	require.Equal(t, 1, r.Calls())
	l.Close()
	require.Equal(t, 0, clock.PendingTimers())
}

func TestLeaseShortTimeoutNotScheduled(t *testing.T) {
	r := newFakeRenewer(60)
	m, clock := newTestManager(r)
	defer m.Close()

	l := m.Start(capability(30))
	require.Equal(t, 0, clock.PendingTimers())
	l.Close()
}

func TestLeaseRenewalStopsWhenNewTimeoutTooShort(t *testing.T) {
	r := newFakeRenewer(10)
	m, clock := newTestManager(r)
	defer m.Close()

	l := m.Start(capability(40))
	clock.Advance(10 * time.Second)
	waitCall(t, r)
	require.Eventually(t, func() bool { return l.Capability().ExpireTimeoutS == 10 }, 5*time.Second, time.Millisecond)
	require.Equal(t, 0, clock.PendingTimers())
}

func TestLeaseClosedBeforeFire(t *testing.T) {
	r := newFakeRenewer(60)
	m, clock := newTestManager(r)
	defer m.Close()

	l := m.Start(capability(31))
	l.Close()
	clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 0, r.Calls())
}

func TestLeaseRenewalFailureSwallowed(t *testing.T) {
	r := newFakeRenewer(60)
	r.err = errors.New("mrc unavailable")
	m, clock := newTestManager(r)
	defer m.Close()

	xcap := capability(31)
	l := m.Start(xcap)
	clock.Advance(time.Second)
	waitCall(t, r)
	require.Equal(t, xcap, l.Capability())
	require.Equal(t, 0, clock.PendingTimers())
	l.Close()
}

func TestLeaseSet(t *testing.T) {
	r := newFakeRenewer(60)
	m, clock := newTestManager(r)
	defer m.Close()

	l := m.Start(capability(31))
	truncated := capability(31)
	truncated.TruncateEpoch = 4
	l.Set(truncated)
	require.Equal(t, uint32(4), l.Capability().TruncateEpoch)
	require.Equal(t, 1, clock.PendingTimers())
	l.Close()
}

func TestLeaseSetDuringRenewalWins(t *testing.T) {
	r := newFakeRenewer(60)
	m, clock := newTestManager(r)
	defer m.Close()

	var l *Lease
	truncated := &proto.Capability{FileID: "vol:1", ExpireTimeoutS: 90, Signature: "t"}
	r.during = func() { l.Set(truncated) }
	l = m.Start(capability(31))
	defer l.Close()

	clock.Advance(time.Second)
	waitCall(t, r)
	require.Eventually(t, func() bool { return clock.PendingTimers() == 1 }, 5*time.Second, time.Millisecond)
	require.Equal(t, truncated, l.Capability())
	next, _ := clock.NextDeadline()
	require.Equal(t, clock.Now().Add(60*time.Second), next)
}
