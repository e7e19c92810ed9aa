// Package cmn provides the shared types every kernel package builds on:
// the error taxonomy, the Manifest/PipelineConfig data model, blob URI
// parsing, and id generation.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy surfaced to callers of the kernel façade
// (spec §7). Callers and background daemons branch on Kind, never on
// error string contents.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindNotFound
	KindConflict
	KindValidationFailed
	KindUnavailable
	KindIntegrity
	KindIndexingFailed
	KindGovernance
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindUnavailable:
		return "Unavailable"
	case KindIntegrity:
		return "Integrity"
	case KindIndexingFailed:
		return "IndexingFailed"
	case KindGovernance:
		return "Governance"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// KernelError is the concrete error type every public kernel operation
// returns. AlertCode and CorrelationID are only meaningful for
// KindGovernance and KindInternal respectively; both are left empty
// otherwise.
type KernelError struct {
	Kind          Kind
	Msg           string
	AlertCode     string
	CorrelationID string
	cause         error
}

func (e *KernelError) Error() string {
	switch {
	case e.AlertCode != "":
		return fmt.Sprintf("%s: %s [%s]", e.Kind, e.Msg, e.AlertCode)
	case e.CorrelationID != "":
		return fmt.Sprintf("%s: %s (correlation=%s)", e.Kind, e.Msg, e.CorrelationID)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *KernelError) Unwrap() error { return e.cause }

// Is allows errors.Is(err, cmn.ErrNotFound) style comparisons against the
// Kind sentinels below without requiring identical messages.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, format string, args ...interface{}) *KernelError {
	return &KernelError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Sentinel instances for errors.Is comparisons, e.g. errors.Is(err, cmn.ErrNotFound).
var (
	ErrUnauthorized     = &KernelError{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrNotFound         = &KernelError{Kind: KindNotFound, Msg: "not found"}
	ErrConflict         = &KernelError{Kind: KindConflict, Msg: "conflict"}
	ErrValidationFailed = &KernelError{Kind: KindValidationFailed, Msg: "validation failed"}
	ErrUnavailable      = &KernelError{Kind: KindUnavailable, Msg: "unavailable"}
	ErrIntegrity        = &KernelError{Kind: KindIntegrity, Msg: "integrity check failed"}
	ErrIndexingFailed   = &KernelError{Kind: KindIndexingFailed, Msg: "indexing failed"}
	ErrGovernance       = &KernelError{Kind: KindGovernance, Msg: "blocked by governance"}
	ErrInternal         = &KernelError{Kind: KindInternal, Msg: "internal error"}
)

func NewUnauthorized(format string, args ...interface{}) *KernelError {
	return newErr(KindUnauthorized, format, args...)
}

func NewNotFound(format string, args ...interface{}) *KernelError {
	return newErr(KindNotFound, format, args...)
}

func NewConflict(format string, args ...interface{}) *KernelError {
	return newErr(KindConflict, format, args...)
}

func NewValidationFailed(format string, args ...interface{}) *KernelError {
	return newErr(KindValidationFailed, format, args...)
}

func NewUnavailable(format string, args ...interface{}) *KernelError {
	return newErr(KindUnavailable, format, args...)
}

func NewIntegrity(format string, args ...interface{}) *KernelError {
	return newErr(KindIntegrity, format, args...)
}

func NewIndexingFailed(cause error, format string, args ...interface{}) *KernelError {
	e := newErr(KindIndexingFailed, format, args...)
	e.cause = cause
	return e
}

// NewGovernance reports a sentinel block; alertCode is the module-supplied
// code (e.g. "PII_SECRET", "GDPR_VIOLATION") surfaced to the caller.
func NewGovernance(alertCode, format string, args ...interface{}) *KernelError {
	e := newErr(KindGovernance, format, args...)
	e.AlertCode = alertCode
	return e
}

// NewInternal wraps cause with a correlation id via github.com/pkg/errors so
// the call stack survives across package boundaries; background daemons
// log it at Error level and continue per spec §7.
func NewInternal(correlationID string, cause error, format string, args ...interface{}) *KernelError {
	e := newErr(KindInternal, format, args...)
	e.CorrelationID = correlationID
	if cause != nil {
		e.cause = errors.WithStack(cause)
	}
	return e
}

// Cancelled is returned by long-running daemon loops when their context is
// cancelled; unlike other internal conditions it terminates the loop
// instead of being logged and swallowed (spec §7).
var ErrCancelled = &KernelError{Kind: KindInternal, Msg: "cancelled"}
