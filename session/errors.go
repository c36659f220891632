package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/use-agent/harvest/models"
)

// faultMarkers are fragments of CDP transport errors that mean the browser
// or its target is gone, as opposed to a slow or failed page load.
var faultMarkers = []string{
	"use of closed network connection",
	"websocket: close",
	"broken pipe",
	"connection reset by peer",
	"Target closed",
	"No target with given id",
	"Session with given id not found",
	"browser has disconnected",
}

// categorizeError wraps raw renderer errors into typed HarvestErrors so the
// attempt loop can dispatch on the code. Cancellation passes through
// untouched: it belongs to the caller, not to the page.
func categorizeError(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewHarvestError(models.ErrCodeTimeout, msg, err)
	case isFault(err):
		return models.NewHarvestError(models.ErrCodeSessionFault, msg, err)
	default:
		return models.NewHarvestError(models.ErrCodeNavigation, msg, err)
	}
}

func isFault(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	text := err.Error()
	for _, m := range faultMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// IsFault reports whether err means the session itself is unusable.
func IsFault(err error) bool {
	return models.CodeOf(err) == models.ErrCodeSessionFault
}

// IsTimeout reports whether err is a bounded wait that ran out.
func IsTimeout(err error) bool {
	return models.CodeOf(err) == models.ErrCodeTimeout
}
