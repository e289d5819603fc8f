// Package apperrors defines the error taxonomy shared across tgfs's
// storage engine packages.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for logging, metrics cardinality and retry
// decisions. Keep this list in sync with the component designs in
// spec.md §7.
type Kind string

const (
	KindEncryption       Kind = "encryption"
	KindDecryption       Kind = "decryption"
	KindKeyDerivation    Kind = "key_derivation"
	KindInvalidKeyLength Kind = "invalid_key_length"

	KindChunkNotFound          Kind = "chunk_not_found"
	KindChunkVerificationFail  Kind = "chunk_verification_failed"
	KindInvalidChunkSize       Kind = "invalid_chunk_size"

	KindInodeNotFound     Kind = "inode_not_found"
	KindPathNotFound      Kind = "path_not_found"
	KindNotADirectory     Kind = "not_a_directory"
	KindNotAFile          Kind = "not_a_file"
	KindDirectoryNotEmpty Kind = "directory_not_empty"
	KindAlreadyExists     Kind = "already_exists"
	KindDatabase          Kind = "database"

	KindPermissionDenied Kind = "permission_denied"
	KindInvalidHandle    Kind = "invalid_file_handle"
	KindFileTooLarge     Kind = "file_too_large"

	KindCacheMiss Kind = "cache_miss"
	KindCacheFull Kind = "cache_full"

	KindSnapshotNotFound      Kind = "snapshot_not_found"
	KindSnapshotAlreadyExists Kind = "snapshot_already_exists"

	KindErasureDegraded      Kind = "erasure_degraded"
	KindErasureFailed        Kind = "erasure_failed"
	KindAccountUnavailable   Kind = "account_unavailable"
	KindStripeUnrecoverable  Kind = "stripe_unrecoverable"
	KindErasureEncode        Kind = "erasure_encode"
	KindErasureDecode        Kind = "erasure_decode"
	KindInvalidErasureConfig Kind = "invalid_erasure_config"
	KindRebuildFailed        Kind = "rebuild_failed"

	KindRemoteTransient    Kind = "remote_transient"
	KindRemoteRateLimited  Kind = "remote_rate_limited"
	KindRemoteAuth         Kind = "remote_auth"

	KindConfig Kind = "config"
	KindIO     Kind = "io"

	KindSerialization   Kind = "serialization"
	KindDeserialization Kind = "deserialization"

	KindInternal      Kind = "internal"
	KindNotImplemented Kind = "not_implemented"
)

// Error is the concrete error type carried through the storage engine.
// It wraps an underlying cause and tags it with a Kind so callers can
// branch with errors.Is/As without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperrors.New(kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, returning KindInternal if err is not
// a tagged *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether an operation that failed with err should be
// retried with backoff. Remote-transport errors (transient and
// rate-limited), an unavailable account and a degraded erasure write
// are retryable; every other kind, including cryptographic and
// data-integrity failures, is not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRemoteTransient, KindRemoteRateLimited, KindAccountUnavailable, KindErasureDegraded:
		return true
	default:
		return false
	}
}
