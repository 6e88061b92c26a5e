// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers to distinguish
// between different failure scenarios without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource outside their ownership or community.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot be applied because the row
// is no longer in the state the caller expected.
var ErrConflict = errors.New("conflict")

// ErrRetryExhausted is returned by InSlotTx when every attempt hit a
// deadlock or lock wait timeout.  Callers may retry the whole request.
var ErrRetryExhausted = errors.New("slot lock contention: retries exhausted")

// MySQL server error numbers that indicate a transaction can simply be retried.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// isRetryable reports whether err is a transient lock error.
func isRetryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout
	}
	return false
}
