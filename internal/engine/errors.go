package engine

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrDependencyUnmet    = errors.New("dependency unmet")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrValidation         = errors.New("validation failed")
	// ErrStorageContention is the only error a caller may retry as-is.
	ErrStorageContention = errors.New("storage contention")
)

// TransitionError reports an operation attempted from a status that does not allow it.
type TransitionError struct {
	Op      string
	TaskID  string
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s task %s: current status is %s", ErrInvalidTransition, e.Op, e.TaskID, e.Current)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translateStorageError turns a lock-wait timeout into ErrStorageContention and leaves the rest as-is.
func translateStorageError(err error) error {
	if err == nil || !isBusy(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageContention, err)
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
