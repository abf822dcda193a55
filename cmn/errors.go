// Package cmn provides common constants, configuration, and error types
// shared by every darc package.
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed taxonomy of worker-level outcomes a fetch attempt can
// produce. It is recorded verbatim in every history row so operators (and
// tests) can reason about retry policy without parsing error strings.
type Kind string

const (
	KindWorkStoreUnavailable Kind = "work-store-unavailable"
	KindBootstrapFailed      Kind = "bootstrap-failed"
	KindUnsupportedPlatform  Kind = "unsupported-platform"
	KindNetworkTimeout       Kind = "network-timeout"
	KindNetworkTransient     Kind = "network-transient"
	KindHTTPErrorClient      Kind = "http-error-client"
	KindHTTPErrorServer      Kind = "http-error-server"
	KindRobotsDenied         Kind = "robots-denied"
	KindMIMEDenied           Kind = "mime-denied"
	KindProxyDenied          Kind = "proxy-denied"
	KindRenderTimeout        Kind = "render-timeout"
	KindRenderEmpty          Kind = "render-empty"
	KindDatabaseOpFailed     Kind = "database-operation-failed"
	KindOK                   Kind = "ok"
)

// Error is the single error type flowing through fetchers and the
// scheduler; callers switch on Kind rather than on Go types.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError wraps cause (if any) with errors.Wrap so DARC_DEBUG builds retain
// a stack trace without changing the Kind the caller branches on.
func NewError(kind Kind, msg string, cause error) *Error {
	e := &Error{Kind: kind, Message: msg}
	if cause != nil {
		e.cause = errors.Wrap(cause, string(kind))
	}
	return e
}

// Retryable reports whether the worker loop should retry in place rather
// than recording a terminal history row.
func Retryable(kind Kind) bool {
	switch kind {
	case KindNetworkTimeout, KindNetworkTransient, KindHTTPErrorServer, KindDatabaseOpFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether kind should be written as a dropped history row
// with no further retries in this attempt.
func Terminal(kind Kind) bool {
	switch kind {
	case KindHTTPErrorClient, KindRobotsDenied, KindMIMEDenied, KindProxyDenied,
		KindRenderTimeout, KindRenderEmpty:
		return true
	default:
		return false
	}
}

var (
	ErrQueueEmpty   = errors.New("queue empty")
	ErrNotClaimed   = errors.New("entry not claimed by this worker")
	ErrShuttingDown = errors.New("scheduler is shutting down")
)
