package trip

import "errors"

var (
	ErrNotFound        = errors.New("trip not found")
	ErrVersionConflict = errors.New("trip version conflict")
)
