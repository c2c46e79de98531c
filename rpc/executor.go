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

package rpc

import (
	"context"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/metrics"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

// Options bound one logical call.
type Options struct {
	// Service labels metrics and log lines, e.g. "mrc" or "osd".
	Service string
	// MaxTries is the attempt budget, 0 retries forever.
	MaxTries int
	// RetryDelay is the minimum distance between the sends of two attempts.
	RetryDelay time.Duration
	// MaxRedirects bounds consecutive redirects, defaults to proto.MaxRedirects.
	MaxRedirects int
}

// CallFunc performs one attempt against ep.
type CallFunc func(ctx context.Context, ep Endpoint) (interface{}, error)

// Executor runs logical calls with retry, redirect following and endpoint
// failover.
type Executor struct {
	clock util.Clock
}

func NewExecutor(clock util.Clock) *Executor {
	if clock == nil {
		clock = util.NewClock()
	}
	return &Executor{clock: clock}
}

func (e *Executor) Clock() util.Clock {
	return e.clock
}

// Do executes call until it succeeds, fails with a non retryable error, the
// attempt budget runs out or ctx is done. It returns the response together
// with the number of counted attempts. Redirects are consumed here and never
// returned.
func (e *Executor) Do(ctx context.Context, r *Resolver, opts Options, call CallFunc) (interface{}, int, error) {
	span := trace.SpanFromContextSafe(ctx)
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = proto.MaxRedirects
	}

	var (
		attempts  int
		redirects int
		lastErr   error
	)
	for {
		if opts.MaxTries > 0 && attempts >= opts.MaxTries {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, attempts, e.cancelled(ctx, opts, attempts+1, err)
		}

		attempts++
		sent := e.clock.Now()
		ep, err := r.Endpoint(ctx)
		var resp interface{}
		if err == nil {
			resp, err = call(ctx, ep)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// the response of an interrupted attempt is discarded
			return nil, attempts, e.cancelled(ctx, opts, attempts, ctxErr)
		}
		if err == nil {
			metrics.RPCAttempts.WithLabelValues(opts.Service, "ok").Inc()
			if attempts > 1 {
				span.Infof("%s call to %s succeeded after %d attempts", opts.Service, ep.ID, attempts)
			}
			return resp, attempts, nil
		}

		kind := apierrors.KindOf(err)
		metrics.RPCAttempts.WithLabelValues(opts.Service, kind.String()).Inc()
		switch {
		case kind == apierrors.KindRedirect:
			redirects++
			if redirects > maxRedirects {
				span.Errorf("%s call gave up after %d consecutive redirects", opts.Service, redirects)
				metrics.RPCFailures.WithLabelValues(opts.Service, "redirect").Inc()
				return nil, attempts, apierrors.ErrTooManyRedirects.WithAttempts(attempts)
			}
			var rerr *apierrors.Error
			apierrors.As(err, &rerr)
			if rerr.RedirectTo == "" {
				lastErr = apierrors.NewInternalServer("redirect without target")
				redirects = 0
				r.MarkFailed(ep.ID)
				break
			}
			metrics.RPCRedirects.WithLabelValues(opts.Service).Inc()
			span.Debugf("%s redirected from %s to %s", opts.Service, ep.ID, rerr.RedirectTo)
			r.SetCurrent(rerr.RedirectTo)
			if redirects == 1 {
				attempts--
			}
			lastErr = err
			continue

		case kind.Retryable():
			redirects = 0
			lastErr = err
			r.MarkFailed(ep.ID)
			e.logRetry(ctx, opts, ep, attempts, err)

		default:
			e.logFailure(ctx, opts, ep, attempts, err)
			metrics.RPCFailures.WithLabelValues(opts.Service, kind.String()).Inc()
			return nil, attempts, withAttempts(err, attempts)
		}

		if opts.MaxTries > 0 && attempts >= opts.MaxTries {
			break
		}
		delay := opts.RetryDelay - e.clock.Now().Sub(sent)
		if delay < 0 {
			delay = 0
		}
		if err := e.clock.Sleep(ctx, delay); err != nil {
			return nil, attempts, e.cancelled(ctx, opts, attempts, err)
		}
	}

	if apierrors.KindOf(lastErr) == apierrors.KindRedirect {
		// budget ran out inside a redirect chain
		span.Errorf("%s call ran out of attempts after %d redirects", opts.Service, redirects)
		metrics.RPCFailures.WithLabelValues(opts.Service, "redirect").Inc()
		return nil, attempts, apierrors.ErrTooManyRedirects.WithAttempts(attempts)
	}
	span.Errorf("%s call failed after %d attempts: %s", opts.Service, attempts, lastErr)
	metrics.RPCFailures.WithLabelValues(opts.Service, apierrors.KindOf(lastErr).String()).Inc()
	return nil, attempts, withAttempts(lastErr, attempts)
}

func (e *Executor) cancelled(ctx context.Context, opts Options, attempt int, cause error) error {
	span := trace.SpanFromContextSafe(ctx)
	span.Infof("%s call was interrupted at attempt %d", opts.Service, attempt)
	metrics.RPCFailures.WithLabelValues(opts.Service, apierrors.KindCancelled.String()).Inc()
	return apierrors.NewCancelled(attempt, cause)
}

func (e *Executor) logRetry(ctx context.Context, opts Options, ep Endpoint, attempt int, err error) {
	span := trace.SpanFromContextSafe(ctx)
	retries := "infinite"
	if opts.MaxTries > 0 {
		retries = strconv.Itoa(opts.MaxTries)
	}
	if attempt == 1 {
		span.Errorf("%s call to %s (%s) failed, attempt %d of %s, retrying in %s: %s",
			opts.Service, ep.ID, ep.Address, attempt, retries, opts.RetryDelay, err)
		return
	}
	span.Warnf("%s call to %s failed, attempt %d of %s: %s", opts.Service, ep.ID, attempt, retries, err)
}

func (e *Executor) logFailure(ctx context.Context, opts Options, ep Endpoint, attempt int, err error) {
	span := trace.SpanFromContextSafe(ctx)
	switch apierrors.ErrnoOf(err) {
	case apierrors.ENOENT, apierrors.EEXIST, apierrors.ENODATA:
		span.Debugf("%s call to %s returned: %s", opts.Service, ep.ID, err)
	default:
		if apierrors.KindOf(err) == apierrors.KindApplication {
			span.Infof("%s call to %s returned: %s", opts.Service, ep.ID, err)
			return
		}
		span.Warnf("%s call to %s failed at attempt %d: %s", opts.Service, ep.ID, attempt, err)
	}
}

func withAttempts(err error, attempts int) error {
	var e *apierrors.Error
	if apierrors.As(err, &e) {
		return e.WithAttempts(attempts)
	}
	return err
}
