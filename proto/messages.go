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

// MRC messages.

type GetattrRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
	KnownETag  uint64 `json:"known_etag"`
}

type GetattrResponse struct {
	Stat *Stat `json:"stbuf"`
}

type SetattrRequest struct {
	VolumeName string   `json:"volume_name"`
	Path       string   `json:"path"`
	Stat       *Stat    `json:"stbuf"`
	ToSet      Setattrs `json:"to_set"`
}

type FsetattrRequest struct {
	Cap   *Capability `json:"xcap"`
	Stat  *Stat       `json:"stbuf"`
	ToSet Setattrs    `json:"to_set"`
}

type ReaddirRequest struct {
	VolumeName          string `json:"volume_name"`
	Path                string `json:"path"`
	KnownETag           uint64 `json:"known_etag"`
	Limit               uint32 `json:"limit_directory_entries_count"`
	NamesOnly           bool   `json:"names_only"`
	SeenDirEntriesCount uint64 `json:"seen_directory_entries_count"`
}

type ReaddirResponse struct {
	Entries []*DirEntry `json:"entries"`
}

type OpenRequest struct {
	VolumeName string    `json:"volume_name"`
	Path       string    `json:"path"`
	Flags      OpenFlags `json:"flags"`
	Mode       uint32    `json:"mode"`
	Attributes uint32    `json:"attributes"`
}

type OpenResponse struct {
	Creds      *FileCredentials `json:"creds"`
	TimestampS uint32           `json:"timestamp_s"`
}

type RenameRequest struct {
	VolumeName string `json:"volume_name"`
	Source     string `json:"source_path"`
	Target     string `json:"target_path"`
}

// RenameResponse carries credentials of a file overwritten by the rename,
// whose objects must be removed at the OSDs.
type RenameResponse struct {
	TimestampS uint32           `json:"timestamp_s"`
	Creds      *FileCredentials `json:"creds,omitempty"`
}

type UnlinkRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
}

type UnlinkResponse struct {
	TimestampS uint32           `json:"timestamp_s"`
	Creds      *FileCredentials `json:"creds,omitempty"`
}

type MkdirRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
	Mode       uint32 `json:"mode"`
}

type RmdirRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
}

type TimestampResponse struct {
	TimestampS uint32 `json:"timestamp_s"`
}

type FtruncateResponse struct {
	Cap *Capability `json:"xcap"`
}

type RenewCapabilityRequest struct {
	Cap *Capability `json:"xcap"`
}

type UpdateFileSizeRequest struct {
	Cap         *Capability       `json:"xcap"`
	Attestation *WriteAttestation `json:"osd_write_response"`
	CloseFile   bool              `json:"close_file"`
}

type GetXLocSetRequest struct {
	FileID FileID      `json:"file_id"`
	Cap    *Capability `json:"xcap"`
}

type ListxattrRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
	NamesOnly  bool   `json:"names_only"`
}

type ListxattrResponse struct {
	XAttrs []*XAttr `json:"xattrs"`
}

type GetxattrRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
	Name       string `json:"name"`
}

type GetxattrResponse struct {
	Value string `json:"value"`
}

type SetxattrRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	Value      string `json:"value"`
	Flags      int32  `json:"flags"`
}

type RemovexattrRequest struct {
	VolumeName string `json:"volume_name"`
	Path       string `json:"path"`
	Name       string `json:"name"`
}

// OSD messages.

type ReadRequest struct {
	Creds         *FileCredentials `json:"file_credentials"`
	FileID        FileID           `json:"file_id"`
	ObjectNumber  uint64           `json:"object_number"`
	ObjectVersion uint64           `json:"object_version"`
	Offset        uint32           `json:"offset"`
	Length        uint32           `json:"length"`
}

// ReadResponse carries the bytes an OSD holds for the requested range plus
// a count of zero bytes the client has to append for sparse regions.
type ReadResponse struct {
	Data        []byte `json:"data"`
	ZeroPadding uint32 `json:"zero_padding"`
	// SelectedReplica is 1-based, 0 if the OSD did not report one.
	SelectedReplica uint32 `json:"selected_replica"`
}

type WriteRequest struct {
	Creds         *FileCredentials `json:"file_credentials"`
	FileID        FileID           `json:"file_id"`
	ObjectNumber  uint64           `json:"object_number"`
	ObjectVersion uint64           `json:"object_version"`
	Offset        uint32           `json:"offset"`
	Data          []byte           `json:"data"`
}

type TruncateRequest struct {
	Creds       *FileCredentials `json:"file_credentials"`
	FileID      FileID           `json:"file_id"`
	NewFileSize uint64           `json:"new_file_size"`
}

type OSDUnlinkRequest struct {
	Creds  *FileCredentials `json:"file_credentials"`
	FileID FileID           `json:"file_id"`
}

type LockRequest struct {
	Creds *FileCredentials `json:"file_credentials"`
	Lock  *Lock            `json:"lock_request"`
}

type LockResponse struct {
	Lock *Lock `json:"lock"`
}

// DIR messages.

type ServiceGetByUUIDRequest struct {
	UUID ServiceUUID `json:"name"`
}

type ServiceGetByUUIDResponse struct {
	Services []*ServiceAddress `json:"services"`
}

type EmptyResponse struct{}
