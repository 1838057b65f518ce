package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid    ErrorCode = "invalid"
	ErrorNotFound   ErrorCode = "not_found"
	ErrorConflict   ErrorCode = "conflict"
	ErrorBadGateway ErrorCode = "bad_gateway"
)

// ServiceError carries a user-facing message and the class of failure.
type ServiceError struct {
	Code    ErrorCode
	Message string
	// Key names a localized participant-facing message, when there is one.
	Key string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error    { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error   { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error   { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var (
	// ErrSessionCorrupted is returned when a persisted session exists but cannot be trusted.
	ErrSessionCorrupted = errors.New("session file corrupted")
	// ErrTrialAlreadyCommitted rejects a second advance for the same trial.
	ErrTrialAlreadyCommitted = errors.New("trial already committed")
	ErrNotPresenting         = errors.New("no trial is being presented")
	ErrNotTerminal           = errors.New("session still has trials to run")
	// ErrRemoteDisabled signals that no remote backend is configured.
	ErrRemoteDisabled = errors.New("remote sync disabled")

	ErrProlificRequired     = &ServiceError{Code: ErrorInvalid, Message: "prolific id required", Key: "prolific.required"}
	ErrProlificAlreadySaved = &ServiceError{Code: ErrorConflict, Message: "prolific id already submitted", Key: "prolific.already_saved"}
)
