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

type ServiceType int

const (
	ServiceTypeUnknown ServiceType = iota
	ServiceTypeDIR
	ServiceTypeMRC
	ServiceTypeOSD
)

func (t ServiceType) String() string {
	switch t {
	case ServiceTypeDIR:
		return "DIR"
	case ServiceTypeMRC:
		return "MRC"
	case ServiceTypeOSD:
		return "OSD"
	default:
		return "Unknown"
	}
}

// ServiceAddress is a resolved endpoint of a service registered at the DIR.
type ServiceAddress struct {
	UUID     ServiceUUID `json:"uuid"`
	Type     ServiceType `json:"type"`
	Address  string      `json:"address"`
	Port     uint32      `json:"port"`
	Protocol string      `json:"protocol"`
	// TTL is how long the mapping may be cached, in seconds.
	TTL uint32 `json:"ttl_s"`
}
