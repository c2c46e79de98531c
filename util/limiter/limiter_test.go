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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterConcurrency(t *testing.T) {
	l := NewLimiter(LimitConfig{ReadConcurrency: 1, WriteConcurrency: 2})
	ctx := context.Background()

	require.NoError(t, l.AcquireRead(ctx, 10))
	require.Equal(t, 1, l.Status().ReadRunning)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.AcquireRead(timeout, 10))
	require.Equal(t, 1, l.Status().ReadRunning)

	l.ReleaseRead()
	require.Equal(t, 0, l.Status().ReadRunning)
	require.NoError(t, l.AcquireRead(ctx, 10))
	l.ReleaseRead()

	require.NoError(t, l.AcquireWrite(ctx, 1))
	require.NoError(t, l.AcquireWrite(ctx, 1))
	require.Equal(t, 2, l.Status().WriteRunning)
	l.ReleaseWrite()
	l.ReleaseWrite()
	require.Equal(t, 0, l.Status().WriteRunning)
}

func TestLimiterRate(t *testing.T) {
	cfg := LimitConfig{ReadMBPS: 1, WriteMBPS: 1}
	l := NewLimiter(cfg)
	require.Equal(t, cfg, *l.GetConfig())

	var wg sync.WaitGroup
	worker := 2
	wg.Add(worker)
	for i := 0; i < worker; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, l.AcquireWrite(context.Background(), 1<<19))
			l.ReleaseWrite()
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.AcquireRead(ctx, 2<<20))
	require.Equal(t, 0, l.Status().ReadRunning)
}

func TestNoopLimiter(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.AcquireRead(context.Background(), 1<<30))
	}
	st := l.Status()
	require.Equal(t, 100, st.ReadRunning)
	require.Equal(t, 0, st.ReadWait)
}
