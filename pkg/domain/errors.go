package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Kinds drive retry decisions and end
// up on the IngestionResult, never the concrete error types.
type Kind string

const (
	KindConfigInvalid          Kind = "ConfigInvalid"
	KindCredentialInvalid      Kind = "CredentialInvalid"
	KindTransientNetwork       Kind = "TransientNetwork"
	KindRateLimited            Kind = "RateLimited"
	KindUnsupportedFormat      Kind = "UnsupportedFormat"
	KindExtractionFailed       Kind = "ExtractionFailed"
	KindEmbeddingShape         Kind = "EmbeddingShape"
	KindDimensionMismatch      Kind = "DimensionMismatch"
	KindUpsertConflict         Kind = "UpsertConflict"
	KindVectorStoreDown        Kind = "VectorStoreDown"
	KindArtifactStoreDown      Kind = "ArtifactStoreDown"
	KindIntegrityChunkOversize Kind = "IntegrityChunkOversize"
)

// Error carries a kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted message instead of a wrapped cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or ""
// when the error carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err should be retried under the uniform
// retry policy. Timeouts, connection errors, throttling and upsert races
// are transient; everything else is terminal for its scope.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindRateLimited, KindUpsertConflict,
		KindVectorStoreDown, KindArtifactStoreDown:
		return true
	}
	return false
}
