package sdk

import "errors"

var (
	ErrRequest   = errors.New("sdk: control plane request failed")
	ErrStatus    = errors.New("sdk: control plane returned status")
	ErrDecode    = errors.New("sdk: undecodable control plane response")
	ErrSubscribe = errors.New("sdk: live event subscription failed")
)
