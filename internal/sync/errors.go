package sync

import (
	"errors"
	"fmt"
)

// ErrNetworkedUnavailable is returned when the networked store is not
// configured or disabled for the deployment context
var ErrNetworkedUnavailable = errors.New("networked store unavailable")

// SchemaError reports a configured table that cannot be synchronized as
// declared. It is a configuration error and is never retried within a run.
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on table %s: %s", e.Table, e.Reason)
}

// ConnectivityError wraps a failure to reach the networked store
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("networked store unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RowError is a failure confined to one row; the pass continues without it
type RowError struct {
	Table string
	Key   string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %s of table %s: %v", e.Key, e.Table, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// PartialSyncError reports a direction aborted after some rows were applied.
// Applied rows stay applied and the watermark is left where it was.
type PartialSyncError struct {
	Table     string
	Direction Direction
	Attempted int
	Err       error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("sync %s of table %s aborted after %d rows: %v", e.Direction, e.Table, e.Attempted, e.Err)
}

func (e *PartialSyncError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err should be surfaced to an operator
func IsConfigurationError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr) || errors.Is(err, ErrNetworkedUnavailable)
}
