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

package proto

import "time"

const (
	ReqIdKey = "req-id"

	// MinCapabilityTimeout is the safety margin kept between a scheduled
	// capability renewal and the capability's expiry.
	MinCapabilityTimeout = 30 * time.Second

	// MaxRedirects bounds consecutive redirects followed by one call.
	MaxRedirects = 5
)

type (
	FileID       = string
	ServiceUUID  = string
	XLocsVersion = uint32
	TruncEpoch   = uint32
)
