package configuration

import "errors"

var ErrInvalidConfig = errors.New("invalid configuration")
