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

package transport

import (
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
)

// Trailer keys a service uses to describe a failed call.
const (
	TrailerErrorType = "xtfs-error-type"
	TrailerErrno     = "xtfs-errno"
	TrailerRedirect  = "xtfs-redirect"

	ErrorTypeErrno     = "errno"
	ErrorTypeRedirect  = "redirect"
	ErrorTypeInternal  = "internal"
	ErrorTypeIO        = "io"
	ErrorTypeStaleView = "invalid_view"
)

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// classify maps a failed call to an error kind. The service's trailer wins,
// the gRPC status code is the fallback.
func classify(err error, trailer metadata.MD) error {
	st, _ := status.FromError(err)
	msg := st.Message()

	switch firstValue(trailer, TrailerErrorType) {
	case ErrorTypeRedirect:
		if target := firstValue(trailer, TrailerRedirect); target != "" {
			return apierrors.NewRedirect(target)
		}
		return apierrors.NewInternalServer("redirect without target: " + msg)
	case ErrorTypeErrno:
		errno := apierrors.EIO
		if v, perr := strconv.Atoi(firstValue(trailer, TrailerErrno)); perr == nil {
			errno = apierrors.Errno(v)
		}
		return apierrors.NewApplication(errno, msg)
	case ErrorTypeStaleView:
		return apierrors.NewStaleView(msg)
	case ErrorTypeInternal:
		return apierrors.NewInternalServer(msg)
	case ErrorTypeIO:
		return apierrors.NewTransport(err)
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
		return apierrors.NewTransport(err)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return apierrors.NewInternalServer(msg)
	case codes.NotFound:
		return apierrors.NewApplication(apierrors.ENOENT, msg)
	case codes.AlreadyExists:
		return apierrors.NewApplication(apierrors.EEXIST, msg)
	case codes.PermissionDenied, codes.Unauthenticated:
		return apierrors.NewApplication(apierrors.EACCES, msg)
	case codes.InvalidArgument, codes.OutOfRange:
		return apierrors.NewApplication(apierrors.EINVAL, msg)
	case codes.ResourceExhausted:
		return apierrors.NewApplication(apierrors.ENOSPC, msg)
	case codes.Unimplemented:
		return apierrors.NewApplication(apierrors.ENOTSUP, msg)
	case codes.FailedPrecondition:
		return apierrors.NewStaleView(msg)
	}
	return apierrors.NewInternalServer(msg)
}
