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

package errors

import "strconv"

// Errno is a POSIX-like domain code carried by application errors.
type Errno int32

const (
	ErrnoNone Errno = 0
	EPERM     Errno = 1
	ENOENT    Errno = 2
	EINTR     Errno = 4
	EIO       Errno = 5
	EBADF     Errno = 9
	EAGAIN    Errno = 11
	EACCES    Errno = 13
	EEXIST    Errno = 17
	EXDEV     Errno = 18
	ENOTDIR   Errno = 20
	EISDIR    Errno = 21
	EINVAL    Errno = 22
	EFBIG     Errno = 27
	ENOSPC    Errno = 28
	ERANGE    Errno = 34
	ENOTEMPTY Errno = 39
	ENODATA   Errno = 61
	ENOTSUP   Errno = 95
	ETIMEDOUT Errno = 110
)

var errnoNames = map[Errno]string{
	EPERM:     "EPERM",
	ENOENT:    "ENOENT",
	EINTR:     "EINTR",
	EIO:       "EIO",
	EBADF:     "EBADF",
	EAGAIN:    "EAGAIN",
	EACCES:    "EACCES",
	EEXIST:    "EEXIST",
	EXDEV:     "EXDEV",
	ENOTDIR:   "ENOTDIR",
	EISDIR:    "EISDIR",
	EINVAL:    "EINVAL",
	EFBIG:     "EFBIG",
	ENOSPC:    "ENOSPC",
	ERANGE:    "ERANGE",
	ENOTEMPTY: "ENOTEMPTY",
	ENODATA:   "ENODATA",
	ENOTSUP:   "ENOTSUP",
	ETIMEDOUT: "ETIMEDOUT",
}

func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	if e == ErrnoNone {
		return "OK"
	}
	return "ERRNO_" + strconv.Itoa(int(e))
}
