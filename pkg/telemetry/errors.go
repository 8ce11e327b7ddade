package telemetry

import "errors"

var ErrInvalidConfig = errors.New("telemetry: invalid config")
