package procedure

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in RPC error bodies
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// MaxBodySize bounds procedure input read from a request body
const MaxBodySize = 4 << 20

// CodedError is implemented by errors that map onto a specific RPC error code
type CodedError interface {
	error
	Code() string
	HTTPStatus() int
}

// DetailedError is implemented by errors that carry structured details (e.g. field issues)
type DetailedError interface {
	Details() interface{}
}

// Request is an RPC envelope. Path accepts either "a.b.c" or ["a","b","c"].
type Request struct {
	ID    string          `json:"id,omitempty"`
	Path  Path            `json:"path"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Response is an RPC reply; exactly one of Output and Error is set
type Response struct {
	ID     string      `json:"id,omitempty"`
	Output interface{} `json:"output,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the wire form of a failed call
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// UnmarshalJSON accepts a dotted string or an array of segments
func (p *Path) UnmarshalJSON(data []byte) error {
	var segments []string
	if err := json.Unmarshal(data, &segments); err == nil {
		*p = Path(segments)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("path must be a string or an array of strings")
	}
	*p = ParsePath(s)
	return nil
}

// ErrorFrom converts err into an HTTP status and wire error body
func ErrorFrom(err error) (int, *ErrorBody) {
	body := &ErrorBody{Message: err.Error()}

	var detailed DetailedError
	if errors.As(err, &detailed) {
		body.Details = detailed.Details()
	}

	var coded CodedError
	var inputErr *InputError
	switch {
	case errors.As(err, &coded):
		body.Code = coded.Code()
		return coded.HTTPStatus(), body
	case errors.As(err, &inputErr):
		body.Code = CodeInvalidInput
		return http.StatusBadRequest, body
	case errors.Is(err, ErrNotFound):
		body.Code = CodeNotFound
		return http.StatusNotFound, body
	default:
		body.Code = CodeInternalError
		return http.StatusInternalServerError, body
	}
}

// LimitBody caps the request body at MaxBodySize. Reads past the cap fail
// with *http.MaxBytesError.
func LimitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
}

// BodyErrorFrom converts a failed body read into an HTTP status and wire error body.
// Oversized bodies map to 413; anything else is reported as message with 400.
func BodyErrorFrom(err error, message string) (int, *ErrorBody) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, &ErrorBody{
			Code:    CodePayloadTooLarge,
			Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		}
	}
	return http.StatusBadRequest, &ErrorBody{Code: CodeInvalidInput, Message: message}
}
