package storedb

import "errors"

var (
	ErrOpen    = errors.New("open store db")
	ErrMigrate = errors.New("migrate store db")
)
