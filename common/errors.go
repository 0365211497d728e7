package common

import "github.com/pkg/errors"

// Error taxonomy shared by all components. Callers match with errors.Is.
var (
	// ErrTransportUnavailable: provider, relay or feed unreachable or timed out.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrInvalidRequest: caller supplied data failed a precondition. Always raised before any network call.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrProtocol: the peer answered well-formed but rejected the request (eg. JSON-RPC error field set).
	ErrProtocol = errors.New("protocol error")

	// ErrParse: a malformed inbound message on a push feed.
	ErrParse = errors.New("parse error")
)

// Unavailable wraps err as ErrTransportUnavailable, keeping the original message.
func Unavailable(err error, msg string) error {
	return errors.Wrapf(ErrTransportUnavailable, "%s: %v", msg, err)
}

// InvalidRequest returns an ErrInvalidRequest with the given reason.
func InvalidRequest(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidRequest, format, args...)
}

func ProtocolError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

func ParseError(err error, msg string) error {
	return errors.Wrapf(ErrParse, "%s: %v", msg, err)
}
