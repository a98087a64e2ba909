package fsensor

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes filament sensor conditions. None of them are fatal.
type ErrorCode string

const (
	ErrCodeSensorNotConnected   ErrorCode = "SENSOR_NOT_CONNECTED"
	ErrCodeSensorDisabled       ErrorCode = "SENSOR_DISABLED"
	ErrCodeSensorUncalibrated   ErrorCode = "SENSOR_UNCALIBRATED"
	ErrCodeSensorNotInitialized ErrorCode = "SENSOR_NOT_INITIALIZED"
	ErrCodeSensorUnmapped       ErrorCode = "SENSOR_UNMAPPED"
	ErrCodeSampleIndexUnbound   ErrorCode = "SAMPLE_INDEX_UNBOUND"
	ErrCodeConfigRaceDetected   ErrorCode = "CONFIG_RACE_DETECTED"
	ErrCodeConfigInvalid        ErrorCode = "CONFIG_INVALID"
)

// Error is a coded filament sensor error.
type Error struct {
	Code    ErrorCode
	Sensor  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Sensor != "" {
		msg += " " + e.Sensor
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a coded error.
func NewError(code ErrorCode, sensor, message string) *Error {
	return &Error{Code: code, Sensor: sensor, Message: message}
}

// WrapError attaches a code to an existing error.
func WrapError(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the first code found in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// stateError maps a non-confident state to its error; confident states
// return nil.
func stateError(sensor string, st State) error {
	switch st {
	case StateHasFilament, StateNoFilament:
		return nil
	case StateDisabled:
		return NewError(ErrCodeSensorDisabled, sensor, "sensor disabled")
	case StateNotCalibrated:
		return NewError(ErrCodeSensorUncalibrated, sensor, "sensor not calibrated")
	case StateNotConnected:
		return NewError(ErrCodeSensorNotConnected, sensor, "no signal from sensor")
	default:
		return NewError(ErrCodeSensorNotInitialized, sensor, "sensor has no reading yet")
	}
}
