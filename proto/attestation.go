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

// CompareWriteAttestations orders two attestations by
// (truncate epoch, size). An absent attestation is smaller than any present
// one. It returns -1, 0 or 1.
func CompareWriteAttestations(a, b *WriteAttestation) int {
	switch {
	case a == nil && b == nil:
		return 0
	case b == nil:
		return 1
	case a == nil:
		return -1
	}
	if a.TruncateEpoch != b.TruncateEpoch {
		if a.TruncateEpoch > b.TruncateEpoch {
			return 1
		}
		return -1
	}
	switch {
	case a.SizeInBytes > b.SizeInBytes:
		return 1
	case a.SizeInBytes < b.SizeInBytes:
		return -1
	}
	return 0
}

// MaxWriteAttestation returns the greatest of the given attestations, or nil
// if every one is absent.
func MaxWriteAttestation(atts ...*WriteAttestation) *WriteAttestation {
	var max *WriteAttestation
	for _, att := range atts {
		if CompareWriteAttestations(att, max) > 0 {
			max = att
		}
	}
	return max
}
