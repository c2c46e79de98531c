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

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call. Redirect never leaves package rpc.
type Kind int

const (
	KindUnknown Kind = iota
	KindApplication
	KindTransport
	KindInternalServer
	KindRedirect
	KindStaleView
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindTransport:
		return "transport"
	case KindInternalServer:
		return "internal_server"
	case KindRedirect:
		return "redirect"
	case KindStaleView:
		return "stale_view"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry executor may resubmit after a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindTransport || k == KindInternalServer
}

// Error is the error value surfaced by every remote operation.
type Error struct {
	Kind    Kind
	Errno   Errno
	Message string
	// RedirectTo names the authoritative service when Kind is KindRedirect.
	RedirectTo string
	// Attempts is the number of attempts made, or the attempt in flight
	// when the call was cancelled.
	Attempts int

	err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.err != nil {
		msg = e.err.Error()
	}
	s := e.Kind.String()
	if e.Errno != ErrnoNone {
		s += " " + e.Errno.String()
	}
	if msg != "" {
		s += ": " + msg
	}
	if e.Kind == KindCancelled && e.Attempts > 0 {
		s += fmt.Sprintf(" (interrupted at attempt %d)", e.Attempts)
	} else if e.Attempts > 1 {
		s += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches another *Error by kind and errno so that sentinels compare
// equal regardless of message or attempt count.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Errno == t.Errno && (t.Message == "" || t.Message == e.Message)
}

// WithAttempts returns a copy of e carrying n as its attempt count.
func (e *Error) WithAttempts(n int) *Error {
	cp := *e
	cp.Attempts = n
	return &cp
}

func NewApplication(errno Errno, msg string) *Error {
	return &Error{Kind: KindApplication, Errno: errno, Message: msg}
}

func NewTransport(err error) *Error {
	return &Error{Kind: KindTransport, Errno: EIO, err: err}
}

func NewInternalServer(msg string) *Error {
	return &Error{Kind: KindInternalServer, Errno: EIO, Message: msg}
}

func NewRedirect(target string) *Error {
	return &Error{Kind: KindRedirect, RedirectTo: target, Message: "redirect to " + target}
}

func NewStaleView(msg string) *Error {
	return &Error{Kind: KindStaleView, Errno: EAGAIN, Message: msg}
}

func NewCancelled(attempt int, err error) *Error {
	return &Error{Kind: KindCancelled, Errno: EINTR, Attempts: attempt, err: err}
}

// KindOf returns the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ErrnoOf returns the domain code of err; foreign errors map to EIO.
func ErrnoOf(err error) Errno {
	if err == nil {
		return ErrnoNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Errno
	}
	return EIO
}

// AttemptsOf returns the attempt count recorded in err.
func AttemptsOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Attempts
	}
	return 0
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

var (
	ErrTooManyRedirects     = &Error{Kind: KindInternalServer, Errno: EIO, Message: "too many consecutive redirects"}
	ErrStripingNotSupported = &Error{Kind: KindApplication, Errno: ENOTSUP, Message: "striping policy not supported"}
	ErrNoEndpoint           = &Error{Kind: KindApplication, Errno: EINVAL, Message: "no endpoint configured"}
	ErrUnknownService       = &Error{Kind: KindApplication, Errno: ENOENT, Message: "service uuid not registered"}
	ErrPaddingOverflow      = &Error{Kind: KindApplication, Errno: EIO, Message: "zero padding exceeds the requested range"}
	ErrHandleClosed         = &Error{Kind: KindApplication, Errno: EBADF, Message: "file handle closed"}
	ErrNoReplica            = &Error{Kind: KindApplication, Errno: EIO, Message: "location set holds no replica"}
	ErrLockConflict         = &Error{Kind: KindApplication, Errno: EAGAIN, Message: "conflicting lock held"}
	ErrNoXAttr              = &Error{Kind: KindApplication, Errno: ENODATA, Message: "no such attribute"}
	ErrInvalidConfig        = errors.New("invalid config")
)
