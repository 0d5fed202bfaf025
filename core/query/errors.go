package query

import "fmt"

// ValidationError reports a caller-input problem. It is always detected
// locally, before any remote call is attempted, and is never retried.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return e.Reason
}

// BackendError carries a failure of the remote data source verbatim: the
// status it answered with and its original detail payload. This layer does
// not retry; retry policy belongs to the backend client.
type BackendError struct {
	Status int
	Detail []byte
}

func (e BackendError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, string(e.Detail))
}
