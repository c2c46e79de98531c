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
	"sync"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
)

// AddressLookup maps a service id to a dialable address.
type AddressLookup interface {
	Lookup(ctx context.Context, id string) (string, error)
}

// Endpoint is one resolved candidate of a logical service.
type Endpoint struct {
	ID      string
	Address string
}

type candidate struct {
	id     string
	failed bool
}

// Resolver keeps the ordered candidates of one logical service and a
// pointer to the one currently in use. It is safe for concurrent use.
type Resolver struct {
	lookup AddressLookup

	mu         sync.Mutex
	candidates []*candidate
	current    int
}

// NewResolver returns a resolver over ids. A nil lookup treats every id as
// its own address.
func NewResolver(ids []string, lookup AddressLookup) *Resolver {
	r := &Resolver{lookup: lookup}
	for _, id := range ids {
		if r.indexOf(id) < 0 {
			r.candidates = append(r.candidates, &candidate{id: id})
		}
	}
	return r
}

func (r *Resolver) indexOf(id string) int {
	for i, c := range r.candidates {
		if c.id == id {
			return i
		}
	}
	return -1
}

// Current returns the id in use, "" when the resolver is empty.
func (r *Resolver) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.candidates) == 0 {
		return ""
	}
	return r.candidates[r.current].id
}

// Endpoint resolves the current id to an address.
func (r *Resolver) Endpoint(ctx context.Context) (Endpoint, error) {
	id := r.Current()
	if id == "" {
		return Endpoint{}, apierrors.ErrNoEndpoint
	}
	if r.lookup == nil {
		return Endpoint{ID: id, Address: id}, nil
	}
	addr, err := r.lookup.Lookup(ctx, id)
	if err != nil {
		return Endpoint{ID: id}, err
	}
	return Endpoint{ID: id, Address: addr}, nil
}

// MarkFailed flags id as failed. If id is the current candidate the pointer
// moves to the next candidate not marked failed; once every candidate has
// failed the marks are cleared and the rotation starts over.
func (r *Resolver) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return
	}
	r.candidates[idx].failed = true
	if idx != r.current {
		return
	}
	n := len(r.candidates)
	for i := 1; i <= n; i++ {
		next := (idx + i) % n
		if !r.candidates[next].failed {
			r.current = next
			return
		}
	}
	for _, c := range r.candidates {
		c.failed = false
	}
	r.current = (idx + 1) % n
}

// SetCurrent makes id the current candidate, appending it when unknown.
func (r *Resolver) SetCurrent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		r.candidates = append(r.candidates, &candidate{id: id})
		idx = len(r.candidates) - 1
	}
	r.candidates[idx].failed = false
	r.current = idx
}

// IDs returns the candidates in order.
func (r *Resolver) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		ids[i] = c.id
	}
	return ids
}

func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}
