package controlplane

import "errors"

var (
	ErrListen    = errors.New("control plane: failed to listen")
	ErrStoreSave = errors.New("save to control store")
	ErrStoreRead = errors.New("read from control store")
	ErrOracle    = errors.New("oracle request")
)
