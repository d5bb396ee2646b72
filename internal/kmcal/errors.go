package kmcal

import "errors"

var (
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUpstreamQuery = errors.New("upstream query failed")
	ErrUpstreamWrite = errors.New("upstream write failed")
)
