package core

import "errors"

var (
	// ErrDataAccess marks failures reading LMS records or plugin settings.
	// These are hard failures and are surfaced to the caller unchanged.
	ErrDataAccess = errors.New("data access failed")

	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidSetting is returned when a settings value cannot be interpreted.
	ErrInvalidSetting = errors.New("invalid setting")
)
