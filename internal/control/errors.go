package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
)

// Error codes for control-plane failures
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodePeerCreation = "PEER_CREATION_ERROR"
)

// Issue is one field-level validation failure
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports a request that failed shape validation
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Path + ": " + issue.Message
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Code returns the RPC error code
func (e *ValidationError) Code() string { return CodeValidation }

// HTTPStatus maps validation failures to 400
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// Details returns the field issues
func (e *ValidationError) Details() interface{} { return e.Issues }

// PeerCreationError reports a peer that could not be created or started
type PeerCreationError struct {
	Err error
}

func (e *PeerCreationError) Error() string {
	return fmt.Sprintf("failed to create peer server: %v", e.Err)
}

func (e *PeerCreationError) Unwrap() error { return e.Err }

// Code returns the RPC error code
func (e *PeerCreationError) Code() string { return CodePeerCreation }

// HTTPStatus maps peer failures to 500
func (e *PeerCreationError) HTTPStatus() int { return http.StatusInternalServerError }

// newValidator returns a validator that reports json field names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validate runs struct validation and converts failures into a ValidationError
func validate(v *validator.Validate, req interface{}) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Issues: []Issue{{Path: "", Message: err.Error()}}}
	}

	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, Issue{Path: fieldPath(fe.Namespace()), Message: issueMessage(fe)})
	}
	return &ValidationError{Issues: issues}
}

// fieldPath drops the root struct name, "StartRequest.transports[0].type" -> "transports[0].type"
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// decoded wraps a typed handler so that input which cannot be decoded into the
// request struct is reported as a ValidationError instead of a bare input error.
func decoded[I any, O any](fn func(ctx context.Context, in I) (O, error)) procedure.Handler {
	h := procedure.Typed(fn)
	return func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		out, err := h(ctx, input)
		var inputErr *procedure.InputError
		if errors.As(err, &inputErr) {
			return nil, decodeIssue(inputErr.Err)
		}
		return out, err
	}
}

// decodeIssue converts a json decoding failure into a single-issue ValidationError
func decodeIssue(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{Issues: []Issue{{
			Path:    typeErr.Field,
			Message: "must be " + jsonKind(typeErr.Type),
		}}}
	}
	return &ValidationError{Issues: []Issue{{Message: "must be valid JSON: " + err.Error()}}}
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return "a valid " + t.Kind().String()
	}
}
