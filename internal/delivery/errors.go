// Package delivery talks to the wallet platforms: APNs for Apple Wallet
// devices and the Google Wallet objects API.
package delivery

import (
	"errors"
	"fmt"
)

// ErrTokenInvalid reports that APNs no longer accepts a device push token.
// The registration using it must be deactivated.
var ErrTokenInvalid = errors.New("device token is no longer valid")

// PermanentError wraps failures that will not succeed on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p) || errors.Is(err, ErrTokenInvalid)
}

// StatusError is a non-success response from a platform API.
type StatusError struct {
	Platform string
	Code     int
	Reason   string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: status %d", e.Platform, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Platform, e.Code, e.Reason)
}

// classify marks 4xx responses other than 408 and 429 as permanent.
func classify(err *StatusError) error {
	if err.Code >= 400 && err.Code < 500 && err.Code != 408 && err.Code != 429 {
		return Permanent(err)
	}
	return err
}
