package api

import "errors"

var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrBaitCredentialSpec = errors.New("invalid bait credential spec")
)
