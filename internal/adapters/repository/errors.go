package repository

import "errors"

// Sentinel kinds for storage setup errors.
var (
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrDSNRequired       = errors.New("database dsn is required")
)
