package wsrelay

import "errors"

var (
	errUnexpectedFrame     = errors.New("expected a register frame")
	errRegistrationTimeout = errors.New("timed out waiting for register frame")
)
