package client

import (
	"fmt"

	"asynchttp/application/http/semantic"

	"github.com/pkg/errors"
)

var (
	ErrConflictingBody  = errors.New("only one of JSON, FormParams, Multipart and Body can be set")
	ErrUnsupportedProxy = errors.New("unsupported proxy scheme")
	ErrUnsupportedURI   = errors.New("unsupported request URI")
	ErrNoHandler        = errors.New("no handler set")
)

// TransferError is the base of every error raised while sending a request.
// The other error types of this package embed it.
type TransferError struct {
	msg string
	req *semantic.Request
	res *semantic.Response
	err error
}

func newTransferError(req *semantic.Request, res *semantic.Response, err error, format string, args ...any) *TransferError {
	return &TransferError{msg: fmt.Sprintf(format, args...), req: req, res: res, err: err}
}

func (e *TransferError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *TransferError) Unwrap() error { return e.err }

// Cause lets [errors.Cause] reach the underlying error.
func (e *TransferError) Cause() error { return e.err }

// Request returns the request that failed.
func (e *TransferError) Request() *semantic.Request { return e.req }

// Response returns the response received before the failure, if any.
func (e *TransferError) Response() *semantic.Response { return e.res }

func (e *TransferError) HasResponse() bool { return e.res != nil }

func (e *TransferError) base() *TransferError { return e }

type transferError interface {
	error
	base() *TransferError
}

// AsTransferError finds the [TransferError] at the base of any error of this package in err's chain.
func AsTransferError(err error) (*TransferError, bool) {
	var te transferError
	if errors.As(err, &te) {
		return te.base(), true
	}
	return nil, false
}

// ConnectError is a failure to resolve, connect, or complete a TLS or proxy handshake.
type ConnectError struct{ *TransferError }

func newConnectError(req *semantic.Request, err error) *ConnectError {
	return &ConnectError{newTransferError(req, nil, err, "connection to %s failed", req.URI().WithoutUserInfo())}
}

// TimeoutError is a request that exceeded its timeout or connect timeout.
// Its connection was closed.
type TimeoutError struct{ *TransferError }

func newTimeoutError(req *semantic.Request, err error, format string, args ...any) *TimeoutError {
	return &TimeoutError{newTransferError(req, nil, err, format, args...)}
}

// RequestError is a request that could not be completed, with the response when one was received.
type RequestError struct{ *TransferError }

func newRequestError(req *semantic.Request, res *semantic.Response, err error, format string, args ...any) *RequestError {
	return &RequestError{newTransferError(req, res, err, format, args...)}
}

// BadResponseError is a response with an error status code.
type BadResponseError struct{ *TransferError }

func (e *BadResponseError) StatusCode() int { return e.res.StatusCode() }

func (e *BadResponseError) badResponse() *BadResponseError { return e }

// AsBadResponseError finds a [BadResponseError], [ClientError] or [ServerError] in err's chain.
func AsBadResponseError(err error) (*BadResponseError, bool) {
	var br interface{ badResponse() *BadResponseError }
	if errors.As(err, &br) {
		return br.badResponse(), true
	}
	return nil, false
}

// ClientError is a response with a 4xx status code.
type ClientError struct{ *BadResponseError }

// ServerError is a response with a 5xx status code.
type ServerError struct{ *BadResponseError }

// NewBadResponseError classifies res by its status code.
func NewBadResponseError(req *semantic.Request, res *semantic.Response) error {
	describe := func(label string) *BadResponseError {
		return &BadResponseError{newTransferError(req, res, nil,
			"%s: `%s %s` resulted in a `%d %s` response",
			label, req.Method(), req.URI().WithoutUserInfo(), res.StatusCode(), res.ReasonPhrase(),
		)}
	}

	switch code := res.StatusCode(); {
	case 400 <= code && code < 500:
		return &ClientError{describe("Client error")}
	case 500 <= code && code < 600:
		return &ServerError{describe("Server error")}
	}
	return describe("Unsuccessful response")
}

// TooManyRedirectsError is a redirect received after the maximum number of redirects was followed.
type TooManyRedirectsError struct{ *TransferError }

func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
