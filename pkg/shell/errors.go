package shell

import "errors"

// ErrSessionBlocked ends a session whose command drew a BLOCK verdict.
var ErrSessionBlocked = errors.New("shell: session terminated by verdict")
