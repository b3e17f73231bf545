package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck on a closed client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
