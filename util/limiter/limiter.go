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

package limiter

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type (
	// Limiter bounds the object requests a client keeps in flight and the
	// bandwidth they consume. A zero value in LimitConfig disables that limit.
	Limiter interface {
		AcquireRead(ctx context.Context, n int) error
		ReleaseRead()
		AcquireWrite(ctx context.Context, n int) error
		ReleaseWrite()
		GetConfig() *LimitConfig
		Status() Status
	}
	LimitConfig struct {
		ReadConcurrency  int `json:"read_concurrency" yaml:"read_concurrency"`
		WriteConcurrency int `json:"write_concurrency" yaml:"write_concurrency"`
		ReadMBPS         int `json:"read_mbps" yaml:"read_mbps"`
		WriteMBPS        int `json:"write_mbps" yaml:"write_mbps"`
	}
	Status struct {
		Config       LimitConfig
		ReadRunning  int
		WriteRunning int
		ReadWait     int
		WriteWait    int
	}
	direction struct {
		count   *semaphore.Weighted
		rate    *rate.Limiter
		running int32
	}
	limiter struct {
		config LimitConfig
		read   direction
		write  direction
	}
)

const mb = 1 << 20

func NewLimiter(cfg LimitConfig) Limiter {
	l := &limiter{config: cfg}
	l.read.init(cfg.ReadConcurrency, cfg.ReadMBPS)
	l.write.init(cfg.WriteConcurrency, cfg.WriteMBPS)
	return l
}

func (d *direction) init(concurrency, mbps int) {
	if concurrency > 0 {
		d.count = semaphore.NewWeighted(int64(concurrency))
	}
	if mbps > 0 {
		d.rate = rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb)
	}
}

// acquire takes a concurrency slot, then waits until n bytes fit the rate.
func (d *direction) acquire(ctx context.Context, n int) error {
	if d.count != nil {
		if err := d.count.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	atomic.AddInt32(&d.running, 1)
	if d.rate != nil {
		burst := d.rate.Burst()
		for n > 0 {
			step := n
			if step > burst {
				step = burst
			}
			if err := d.rate.WaitN(ctx, step); err != nil {
				d.release()
				return err
			}
			n -= step
		}
	}
	return nil
}

func (d *direction) release() {
	atomic.AddInt32(&d.running, -1)
	if d.count != nil {
		d.count.Release(1)
	}
}

func (lim *limiter) AcquireRead(ctx context.Context, n int) error {
	return lim.read.acquire(ctx, n)
}

func (lim *limiter) ReleaseRead() {
	lim.read.release()
}

func (lim *limiter) AcquireWrite(ctx context.Context, n int) error {
	return lim.write.acquire(ctx, n)
}

func (lim *limiter) ReleaseWrite() {
	lim.write.release()
}

func (lim *limiter) GetConfig() *LimitConfig {
	return &lim.config
}

func (lim *limiter) Status() Status {
	return Status{
		Config:       lim.config,
		ReadRunning:  int(atomic.LoadInt32(&lim.read.running)),
		WriteRunning: int(atomic.LoadInt32(&lim.write.running)),
		ReadWait:     rateWait(lim.read.rate),
		WriteWait:    rateWait(lim.write.rate),
	}
}

func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}
