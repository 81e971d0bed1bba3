package contract

import "errors"

var (
	ErrConfig            = errors.New("backend configuration incomplete")
	ErrBackend           = errors.New("backend call failed")
	ErrEmptyReply        = errors.New("backend returned empty reply")
	ErrValidation        = errors.New("validation failed")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	ErrRoleNotFound      = errors.New("role not found")
	ErrUnknownFeature    = errors.New("unknown scene feature")
)
