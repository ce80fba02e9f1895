package cameras

import "errors"

var (
	ErrEmptyID       = errors.New("camera id is required")
	ErrInvalidStatus = errors.New("invalid camera status")
)
