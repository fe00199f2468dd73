package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAlarmState  = errors.New("invalid alarm state")
	ErrInvalidAlarmMethod = errors.New("invalid alarm method")
)

// AlarmState grades the severity of a notification.
type AlarmState string

const (
	AlarmNormal    AlarmState = "normal"
	AlarmAlert     AlarmState = "alert"
	AlarmWarn      AlarmState = "warn"
	AlarmAlarm     AlarmState = "alarm"
	AlarmEmergency AlarmState = "emergency"
)

// Valid reports whether the state is one the server understands.
func (s AlarmState) Valid() bool {
	switch s {
	case AlarmNormal, AlarmAlert, AlarmWarn, AlarmAlarm, AlarmEmergency:
		return true
	}

	return false
}

// AlarmMethod is how the server should announce a raised alarm.
type AlarmMethod string

const (
	MethodVisual AlarmMethod = "visual"
	MethodSound  AlarmMethod = "sound"
)

// Valid reports whether the method is one the server understands.
func (m AlarmMethod) Valid() bool {
	return m == MethodVisual || m == MethodSound
}

// Alarm is the immutable value PUT under a notifications path.
type Alarm struct {
	Message string
	State   AlarmState
	Methods []AlarmMethod
}

// NewAlarm builds an alarm value, defaulting to visual and sound
// announcement when no methods are given.
func NewAlarm(message string, state AlarmState, methods ...AlarmMethod) Alarm {
	if len(methods) == 0 {
		methods = []AlarmMethod{MethodVisual, MethodSound}
	}

	return Alarm{Message: message, State: state, Methods: methods}
}

// Validate checks the state and every method against their enums.
func (a Alarm) Validate() error {
	if !a.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAlarmState, a.State)
	}

	for _, m := range a.Methods {
		if !m.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidAlarmMethod, m)
		}
	}

	return nil
}

// Value returns the wire form of the alarm.
func (a Alarm) Value() map[string]interface{} {
	methods := make([]string, 0, len(a.Methods))
	for _, m := range a.Methods {
		methods = append(methods, string(m))
	}

	return map[string]interface{}{
		"message": a.Message,
		"state":   string(a.State),
		"method":  methods,
	}
}
