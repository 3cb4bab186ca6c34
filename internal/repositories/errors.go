package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrPartialWrite       = errors.New("partial write failure")
	ErrInvalidInput       = errors.New("invalid input")

	ErrThreadNotFound = fmt.Errorf("thread %w", ErrNotFound)
)

// PartialWriteError reports that the first half of a two-step write
// succeeded and the second did not. The successful half is kept.
type PartialWriteError struct {
	Op  string
	Err error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrPartialWrite, e.Err)
}

func (e *PartialWriteError) Is(target error) bool {
	return target == ErrPartialWrite
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// classify tags connection-level failures with ErrBackendUnavailable so the
// API can offer a retry. Other errors pass through untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P: operator intervention
		class := pqErr.Code.Class()
		return class == "08" || class == "57"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
