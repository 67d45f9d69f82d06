package moecache

import (
	"errors"
	"fmt"

	"github.com/jsp-lqk/moecache/internal"
)

var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidExptime  = errors.New("invalid expiration time")
	ErrInvalidArgument = errors.New("invalid argument")

	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrUnwantedResponse   = errors.New("received unwanted response")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrIncompatibleValue  = errors.New("not a moecache-compatible deployment")
	ErrUnsupportedType    = errors.New("unsupported content type")

	// ErrUnexpectedSocketClose is returned when the server closes the
	// connection in the middle of a response.
	ErrUnexpectedSocketClose = internal.ErrUnexpectedSocketClose
)

// ValidationError reports bad caller input. It is raised before any I/O.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ClientError reports a server response that does not match the protocol
// grammar of the operation, or a stored item this client cannot decode.
type ClientError struct {
	Err      error
	Response []byte
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %q", e.Err, e.Response)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

func clientError(err error, response []byte) error {
	return &ClientError{Err: err, Response: response}
}
