package device

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrPublishRejected   = errors.New("publish rejected")
	ErrResourceCleanup   = errors.New("resource cleanup failed")
	ErrInvalidQuality    = errors.New("invalid video quality")
)

// SwitchError reports a failed switch. Kind is one of the sentinels above.
type SwitchError struct {
	Op       string
	DeviceID string
	Kind     error
	Err      error
}

func (e *SwitchError) Error() string {
	target := e.Op
	if e.DeviceID != "" {
		target = fmt.Sprintf("%s %s", e.Op, e.DeviceID)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", target, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", target, e.Kind, e.Err)
}

func (e *SwitchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
