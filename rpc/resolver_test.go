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
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
)

func TestResolverMarkFailed(t *testing.T) {
	r := NewResolver([]string{"a", "b", "c", "a"}, nil)
	require.Equal(t, 3, r.Len())
	require.Equal(t, "a", r.Current())

	// failing a non current candidate does not move the pointer
	r.MarkFailed("c")
	require.Equal(t, "a", r.Current())

	r.MarkFailed("a")
	require.Equal(t, "b", r.Current())

	// every candidate failed, the marks reset and rotation goes on
	r.MarkFailed("b")
	require.Equal(t, "c", r.Current())
	r.MarkFailed("c")
	require.Equal(t, "a", r.Current())

	r.MarkFailed("unknown")
	require.Equal(t, "a", r.Current())
}

func TestResolverSetCurrent(t *testing.T) {
	r := NewResolver([]string{"a", "b"}, nil)
	r.SetCurrent("b")
	require.Equal(t, "b", r.Current())
	r.SetCurrent("z")
	require.Equal(t, "z", r.Current())
	require.Equal(t, []string{"a", "b", "z"}, r.IDs())
}

func TestResolverEmpty(t *testing.T) {
	r := NewResolver(nil, nil)
	require.Equal(t, "", r.Current())
	_, err := r.Endpoint(context.Background())
	require.True(t, apierrors.Is(err, apierrors.ErrNoEndpoint))
	r.MarkFailed("a")
}
