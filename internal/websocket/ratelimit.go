package websocket

import (
	"time"

	"golang.org/x/time/rate"
)

// newMessageLimiter allows perMinute messages per minute with a burst of the
// same size, so an idle client may send a full minute's allowance at once.
func newMessageLimiter(perMinute int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}
