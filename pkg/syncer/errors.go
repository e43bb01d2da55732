package syncer

import "errors"

var ErrPull = errors.New("pull global blocklist")
