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

// Package striping maps byte ranges of a file onto the stripe objects of a
// replica.
package striping

import (
	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
)

// Chunk is the part of a request that falls into one stripe object.
type Chunk struct {
	ObjectNumber uint64
	// StripeIndex is the position of the owning OSD within the replica.
	StripeIndex  int
	ObjectOffset uint32
	Length       uint32
	FileOffset   uint64
	// BufOffset is the chunk's offset within the caller's buffer.
	BufOffset uint64
}

// Iterator lazily produces the chunks of one range in increasing file
// offset order. Reset restarts it from the first chunk.
type Iterator struct {
	stripeSize uint64
	width      uint64
	offset     uint64
	length     uint64

	pos   uint64
	chunk Chunk
}

// Chunks returns an iterator over [offset, offset+length) for the given
// policy. Only round robin striping is supported.
func Chunks(policy proto.StripingPolicy, offset, length uint64) (*Iterator, error) {
	if policy.Type != proto.StripingPolicyRAID0 {
		return nil, apierrors.ErrStripingNotSupported
	}
	if policy.StripeSize == 0 || policy.Width == 0 {
		return nil, apierrors.NewApplication(apierrors.EINVAL, "invalid striping policy")
	}
	return &Iterator{
		stripeSize: uint64(policy.StripeSize),
		width:      uint64(policy.Width),
		offset:     offset,
		length:     length,
	}, nil
}

func (it *Iterator) Next() bool {
	if it.pos >= it.length {
		return false
	}
	fileOffset := it.offset + it.pos
	objNo := fileOffset / it.stripeSize
	objOffset := fileOffset % it.stripeSize
	n := it.stripeSize - objOffset
	if remaining := it.length - it.pos; remaining < n {
		n = remaining
	}
	it.chunk = Chunk{
		ObjectNumber: objNo,
		StripeIndex:  int(objNo % it.width),
		ObjectOffset: uint32(objOffset),
		Length:       uint32(n),
		FileOffset:   fileOffset,
		BufOffset:    it.pos,
	}
	it.pos += n
	return true
}

// Chunk returns the chunk produced by the last call to Next.
func (it *Iterator) Chunk() Chunk {
	return it.chunk
}

func (it *Iterator) Reset() {
	it.pos = 0
	it.chunk = Chunk{}
}
