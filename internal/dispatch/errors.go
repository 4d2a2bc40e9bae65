package dispatch

import (
	"errors"
	"net/http"

	"duet/internal/engine"
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeDependencyUnmet    = "DEPENDENCY_UNMET"
	CodeDependencyNotFound = "DEPENDENCY_NOT_FOUND"
	CodeValidation         = "VALIDATION"
	CodeStorageContention  = "STORAGE_CONTENTION"
	CodeForbidden          = "FORBIDDEN"
	CodeUnknownOp          = "UNKNOWN_OP"
	CodeBadArgs            = "BAD_ARGS"
	CodeInternal           = "INTERNAL"
)

// Error is a failure raised by the dispatch layer itself.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

var kindCodes = []struct {
	kind error
	code string
}{
	{engine.ErrNotFound, CodeNotFound},
	{engine.ErrInvalidTransition, CodeInvalidTransition},
	{engine.ErrDependencyUnmet, CodeDependencyUnmet},
	{engine.ErrDependencyNotFound, CodeDependencyNotFound},
	{engine.ErrValidation, CodeValidation},
	{engine.ErrStorageContention, CodeStorageContention},
}

// Code returns the stable wire code for err.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps a wire code to the status the local API answers with.
func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeNotFound, CodeUnknownOp:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeDependencyUnmet:
		return http.StatusConflict
	case CodeDependencyNotFound:
		return http.StatusUnprocessableEntity
	case CodeValidation, CodeBadArgs:
		return http.StatusBadRequest
	case CodeStorageContention:
		return http.StatusServiceUnavailable
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may repeat the same call unchanged.
func Retryable(code string) bool {
	return code == CodeStorageContention
}
