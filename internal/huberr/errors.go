// Package huberr defines the error taxonomy shared by every KohakuHub
// component and the table that maps it onto HTTP status codes and the
// HuggingFace-compatible X-Error-Code header.
package huberr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a broad error category, used to pick an HTTP status class.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalidInput     Kind = "invalid_input"
	KindConflict         Kind = "conflict"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindTransient        Kind = "transient"
	KindInternal         Kind = "internal"
)

// HFCode is one of the error codes the HF-compatible API surfaces in the
// X-Error-Code response header.
type HFCode string

const (
	CodeRepoNotFound     HFCode = "RepoNotFound"
	CodeRepoExists       HFCode = "RepoExists"
	CodeRevisionNotFound HFCode = "RevisionNotFound"
	CodeEntryNotFound    HFCode = "EntryNotFound"
	CodeGatedRepo        HFCode = "GatedRepo"
	CodeBadRequest       HFCode = "BadRequest"
	CodeServerError      HFCode = "ServerError"
)

// Error is the typed error carried through every layer of the hub, from
// storage/version-store clients up through the HTTP router.
type Error struct {
	Kind    Kind
	Code    HFCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// As reports whether err (or something it wraps) is a *Error, writing it
// into target when so.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

func new_(kind Kind, code HFCode, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// NotFound builds a 404 RepoNotFound-shaped error. Anonymous callers on a
// private repo must always see this, never PermissionDenied — see
// permission.Guard, which is the sole caller allowed to collapse
// a permission failure into NotFound.
func NotFound(msg string) *Error { return new_(KindNotFound, CodeRepoNotFound, msg, nil) }

// RevisionNotFound builds a 404 RevisionNotFound error.
func RevisionNotFound(msg string) *Error { return new_(KindNotFound, CodeRevisionNotFound, msg, nil) }

// EntryNotFound builds a 404 EntryNotFound error.
func EntryNotFound(msg string) *Error { return new_(KindNotFound, CodeEntryNotFound, msg, nil) }

// GatedRepo builds a 403 GatedRepo error for reads of a gated repository
// without a grant.
func GatedRepo(msg string) *Error { return new_(KindPermissionDenied, CodeGatedRepo, msg, nil) }

// BadRequest builds a 400 BadRequest error.
func BadRequest(msg string) *Error { return new_(KindInvalidInput, CodeBadRequest, msg, nil) }

// RepoExists builds a 400 RepoExists error for a repository name collision.
func RepoExists(msg string) *Error { return new_(KindInvalidInput, CodeRepoExists, msg, nil) }

// Conflict builds a generic 409 conflict (name collision, concurrent
// commit, merge conflict).
func Conflict(msg string) *Error { return new_(KindConflict, CodeBadRequest, msg, nil) }

// QuotaExceeded builds a 413 error; msg should mention "quota" so clients
// that pattern-match the message keep working.
func QuotaExceeded(msg string) *Error { return new_(KindQuotaExceeded, CodeBadRequest, msg, nil) }

// Internal wraps cause as a 500 ServerError.
func Internal(msg string, cause error) *Error {
	return new_(KindInternal, CodeServerError, msg, cause)
}

// Transient wraps cause as a retryable upstream failure.
func Transient(msg string, cause error) *Error {
	return new_(KindTransient, CodeServerError, msg, cause)
}

// HTTPStatus returns the status code the router should write for kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
