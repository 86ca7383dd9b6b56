// Package adapter defines the backend contract the load harness drives.
//
// An Adapter knows how to open one raw connection to a backend, check that
// it is still alive, execute a single operation on it, and close it. The
// harness never inspects backend-specific error codes; it only
// distinguishes permanent setup faults (see PermanentError) from everything
// else, which it treats as transient.
package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Conn is an opaque handle to one raw backend connection. Only the adapter
// that produced it knows how to use or close it; the pool treats it as a
// unit of checkout.
type Conn interface{}

// OperationKind identifies one of the four operations an adapter executes.
type OperationKind int

const (
	KindInsert OperationKind = iota
	KindSelect
	KindUpdate
	KindDelete
)

func (k OperationKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindSelect:
		return "select"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Payload carries the inputs for a single operation.
//
// RowID targets an existing row for select/update/delete; zero means the
// adapter should pick an existing row itself (random probe). RowKey and
// Data are only meaningful for inserts and for verifying a select-back.
type Payload struct {
	RowID  int64
	RowKey string
	Worker string
	Data   string
}

// Result carries the outputs of a single operation. RowID is always the id
// of the row that was touched (the new id for inserts, the probed id for
// RowID==0 requests). RowsAffected is zero for selects.
type Result struct {
	RowID        int64
	RowKey       string
	Data         string
	RowsAffected int64
}

// Adapter is implemented once per backend. All four I/O methods may be slow
// and may fail; each commits its own work where the backend requires it.
type Adapter interface {
	// Name identifies the backend (for logs and result files).
	Name() string

	// Open establishes one new raw connection.
	Open(ctx context.Context) (Conn, error)

	// Ping reports whether the connection is still alive.
	Ping(ctx context.Context, conn Conn) error

	// Exec runs a single operation and commits it.
	Exec(ctx context.Context, conn Conn, kind OperationKind, p *Payload) (*Result, error)

	// Close releases the connection.
	Close(conn Conn) error
}

// SchemaSetup is implemented by adapters that need one-time DDL before a
// run. The controller calls it on a single connection after warm-up.
type SchemaSetup interface {
	Setup(ctx context.Context, conn Conn) error
}

// ErrNoRows is returned by Exec when a select/update/delete found no row to
// touch. Callers treat it as a miss, not a backend fault.
var ErrNoRows = errors.New("adapter: no matching rows")

// PermanentError marks a failure that retrying cannot fix, such as bad
// credentials or an unreachable configuration. Warm-up uses it to decide
// whether a run that created zero connections should abort.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
