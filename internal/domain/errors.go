package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrExpired       = errors.New("expired")
	ErrInvalidState  = errors.New("invalid state")
)

func Validationf(format string, args ...any) error {
	return wrapf(ErrValidation, format, args...)
}

func Unauthorizedf(format string, args ...any) error {
	return wrapf(ErrAuthorization, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return wrapf(ErrNotFound, format, args...)
}

func Conflictf(format string, args ...any) error {
	return wrapf(ErrConflict, format, args...)
}

func Expiredf(format string, args ...any) error {
	return wrapf(ErrExpired, format, args...)
}

func InvalidStatef(format string, args ...any) error {
	return wrapf(ErrInvalidState, format, args...)
}

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
