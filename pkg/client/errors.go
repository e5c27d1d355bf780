package client

import (
	"errors"
	"fmt"

	"github.com/relaydb/relaydb/internal/protocol"
)

// ErrConnectionClosed fails every call outstanding when the channel goes
// away. Closure is the only cancellation the protocol knows; individual
// requests are never aborted.
var ErrConnectionClosed = errors.New("connection closed")

// RemoteError is a failure reported by the server for one request. It is
// scoped to that request: the connection stays usable.
type RemoteError struct {
	Kind    protocol.ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsExecutorError reports whether err is a remote statement failure.
func IsExecutorError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == protocol.ErrKindExecutor
}

// IsTransactionStateError reports whether err is a remote transaction
// state violation.
func IsTransactionStateError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == protocol.ErrKindTransactionState
}
