package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid config")

	ErrInvalidBackend  = errors.New("invalid backend")
	ErrDataStoreAccess = errors.New("credential store read/write error")

	ErrNoCredential   = errors.New("no access credential available")
	ErrSessionInvalid = errors.New("session invalid: must re-authenticate")
	ErrNotConnected   = errors.New("event channel is not connected")

	ErrNetwork          = errors.New("no response from server, check your connection")
	ErrMalformedPayload = errors.New("malformed server payload")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidation       = errors.New("request rejected by server")
	ErrServer           = errors.New("server error")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}

// ErrorKind classifies a failed gateway operation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindParse
	KindUnauthorized
	KindSessionInvalid
	KindValidation
	KindServer
)

var kindText = map[ErrorKind]string{
	KindUnknown:        "unknown",
	KindNetwork:        "network",
	KindParse:          "parse",
	KindUnauthorized:   "unauthorized",
	KindSessionInvalid: "session_invalid",
	KindValidation:     "validation",
	KindServer:         "server",
}

func (k ErrorKind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return "unknown"
}

var kindSentinel = map[ErrorKind]error{
	KindNetwork:        ErrNetwork,
	KindParse:          ErrMalformedPayload,
	KindUnauthorized:   ErrUnauthorized,
	KindSessionInvalid: ErrSessionInvalid,
	KindValidation:     ErrValidation,
	KindServer:         ErrServer,
}

// APIError is the single error shape returned by the request gateway.
// StatusCode is 0 when no response was obtained.
// Fields carries the server's per-field validation messages, if any.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Fields     map[string]any
	Body       []byte
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause so that
// errors.Is(err, types.ErrNetwork) and friends work.
func (e *APIError) Unwrap() []error {
	var errs []error
	if s, ok := kindSentinel[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindForStatus maps a non-2xx status code to an error kind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of err, or KindUnknown when err is not an *APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, ErrSessionInvalid) {
		return KindSessionInvalid
	}
	return KindUnknown
}
