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

type OpenFlags uint32

const (
	FlagReadOnly  OpenFlags = 0x0
	FlagWriteOnly OpenFlags = 0x1
	FlagReadWrite OpenFlags = 0x2
	FlagCreate    OpenFlags = 0x40
	FlagExclusive OpenFlags = 0x80
	FlagTruncate  OpenFlags = 0x200
	FlagAppend    OpenFlags = 0x400
	FlagSync      OpenFlags = 0x101000

	accessMask OpenFlags = 0x3
)

func (f OpenFlags) Readable() bool {
	return f&accessMask == FlagReadOnly || f&accessMask == FlagReadWrite
}

func (f OpenFlags) Writable() bool {
	return f&accessMask == FlagWriteOnly || f&accessMask == FlagReadWrite
}

// Capability is a signed, time limited grant issued by the MRC for one file.
// It is never modified after creation; a renewal produces a new value.
type Capability struct {
	FileID         FileID     `json:"file_id"`
	AccessMode     OpenFlags  `json:"access_mode"`
	ExpireTime     time.Time  `json:"expire_time"`
	ExpireTimeoutS uint32     `json:"expire_timeout_s"`
	TruncateEpoch  TruncEpoch `json:"truncate_epoch"`
	ClientIdentity string     `json:"client_identity"`
	Signature      string     `json:"server_signature"`
}

// ExpireTimeout returns the lease length the capability was granted for.
func (c *Capability) ExpireTimeout() time.Duration {
	return time.Duration(c.ExpireTimeoutS) * time.Second
}

type StripingPolicyType int

const (
	StripingPolicyRAID0 StripingPolicyType = iota
	StripingPolicyErasureCode
)

func (t StripingPolicyType) String() string {
	switch t {
	case StripingPolicyRAID0:
		return "RAID0"
	case StripingPolicyErasureCode:
		return "ERASURECODE"
	default:
		return "UNKNOWN"
	}
}

type StripingPolicy struct {
	Type StripingPolicyType `json:"type"`
	// StripeSize is the size of one stripe object in bytes.
	StripeSize  uint32 `json:"stripe_size"`
	Width       uint32 `json:"width"`
	ParityWidth uint32 `json:"parity_width,omitempty"`
}

type Replica struct {
	StripingPolicy   StripingPolicy `json:"striping_policy"`
	OSDUUIDs         []ServiceUUID  `json:"osd_uuids"`
	ReplicationFlags uint32         `json:"replication_flags"`
}

// LocationSet (XLocSet) describes where the replicas of a file live.
type LocationSet struct {
	Version             XLocsVersion `json:"version"`
	Replicas            []*Replica   `json:"replicas"`
	ReplicaUpdatePolicy string       `json:"replica_update_policy"`
	ReadOnlyFileSize    uint64       `json:"read_only_file_size"`
}

// NewerThan reports whether l should replace other. A nil other is always older.
func (l *LocationSet) NewerThan(other *LocationSet) bool {
	if l == nil {
		return false
	}
	if other == nil {
		return true
	}
	return l.Version > other.Version
}

// HeadOSD returns the OSD holding object 0 of the given replica.
func (l *LocationSet) HeadOSD(replica int) (ServiceUUID, bool) {
	if replica < 0 || replica >= len(l.Replicas) || len(l.Replicas[replica].OSDUUIDs) == 0 {
		return "", false
	}
	return l.Replicas[replica].OSDUUIDs[0], true
}

// WriteAttestation (OSDWriteResponse) is an OSD's claim about the file size
// after a write or truncate.
type WriteAttestation struct {
	TruncateEpoch TruncEpoch `json:"truncate_epoch"`
	SizeInBytes   uint64     `json:"size_in_bytes"`
}

type FileCredentials struct {
	Cap   *Capability  `json:"xcap"`
	XLocs *LocationSet `json:"xlocs"`
}

type Stat struct {
	Dev           uint64     `json:"dev"`
	Ino           uint64     `json:"ino"`
	Mode          uint32     `json:"mode"`
	Nlink         uint32     `json:"nlink"`
	UserID        string     `json:"user_id"`
	GroupID       string     `json:"group_id"`
	Size          uint64     `json:"size"`
	AtimeNs       uint64     `json:"atime_ns"`
	MtimeNs       uint64     `json:"mtime_ns"`
	CtimeNs       uint64     `json:"ctime_ns"`
	Blksize       uint32     `json:"blksize"`
	ETag          uint64     `json:"etag"`
	TruncateEpoch TruncEpoch `json:"truncate_epoch"`
	Attributes    uint32     `json:"attributes"`
}

const (
	ModeDir  uint32 = 0o040000
	ModeFile uint32 = 0o100000
	modeType uint32 = 0o170000
)

func (s *Stat) IsDir() bool {
	return s.Mode&modeType == ModeDir
}

// Setattrs selects which Stat fields a setattr touches.
type Setattrs uint32

const (
	SetattrMode Setattrs = 1 << iota
	SetattrUID
	SetattrGID
	SetattrSize
	SetattrAtime
	SetattrMtime
	SetattrCtime
	SetattrAttributes
)

type DirEntry struct {
	Name string `json:"name"`
	Stat *Stat  `json:"stbuf,omitempty"`
}

type XAttr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Lock is an advisory byte range lock held by one process of one client.
type Lock struct {
	ClientUUID string `json:"client_uuid"`
	ClientPID  int32  `json:"client_pid"`
	Offset     uint64 `json:"offset"`
	Length     uint64 `json:"length"`
	Exclusive  bool   `json:"exclusive"`
}

// Length 0 means "up to the end of the file".
func (l *Lock) end() uint64 {
	if l.Length == 0 {
		return ^uint64(0)
	}
	return l.Offset + l.Length
}

func (l *Lock) overlaps(o *Lock) bool {
	return l.Offset < o.end() && o.Offset < l.end()
}

// ConflictsWith reports whether l cannot be granted while o is held.
func (l *Lock) ConflictsWith(o *Lock) bool {
	if l.ClientUUID == o.ClientUUID && l.ClientPID == o.ClientPID {
		return false
	}
	if !l.Exclusive && !o.Exclusive {
		return false
	}
	return l.overlaps(o)
}

func (l *Lock) Equal(o *Lock) bool {
	return *l == *o
}
