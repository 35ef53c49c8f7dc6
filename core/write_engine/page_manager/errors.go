package pagemanager

import "errors"

var (
	ErrOutOfBounds = errors.New("access outside page bounds")
	ErrReadOnly    = errors.New("page opened read-only")
)
