/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */
/*

# xtreemfs-sub010: an XtreemFS client core in Go

## What is in here?

The library side of an XtreemFS client. It speaks to the three service roles of
an XtreemFS installation and turns them into a path-oriented file API:

* MRC, the metadata and replica catalog. Namespace, attributes, xattrs, open and capabilities.

* OSD, the object storage device. Objects of a file are striped over the OSDs of a replica.

* DIR, the directory service. Resolves service UUIDs to addresses.

## Data Model

* Capability, the signed permission to do I/O on one file. Expires, so it is renewed in the background.

* LocationSet (XLocSet), the versioned list of replicas of a file. A stale view is answered by the OSD and triggers a renewal from the MRC.

* Replica, an ordered list of OSDs plus the striping policy that maps byte ranges to objects.

* WriteAttestation (OSDWriteResponse), the new size and truncate epoch an OSD reports after a write or truncate. The highest one is pushed to the MRC.

## Packages

* client, the Client / Volume / FileHandle API and the per-file shared state.

* rpc, endpoint resolution and the retry executor every remote call goes through.

* striping, replica, lease, cache: chunk mapping, parallel object I/O, capability renewal and the metadata cache.

* transport, the gRPC plumbing to MRC, OSD and DIR.

* cmd/xtfsutil, a small command line tool on top of the library.

## Consistency

Metadata is cached per path with independent TTLs for stat, listing and xattrs. Every mutation
issued through a Volume invalidates what it touches, other clients are only seen after expiry.

File sizes are authoritative at the OSDs. Writes reconcile the returned attestation into the
open file and the cache first, then report it to the MRC. Flush and Close push whatever is
still pending.

*/

package xtreemfs
