package websocket

import "time"

// Options tunes per-connection buffering, heartbeat and limits.
type Options struct {
	WriteQueueSize    int
	WriteWait         time.Duration
	PongWait          time.Duration
	PingInterval      time.Duration
	MaxFrameBytes     int64
	MessagesPerMinute int
	RequestTimeout    time.Duration
}

// DefaultOptions returns the production timings: a 100 frame write queue,
// 5s write deadline, 60s read deadline renewed by pongs every 30s.
func DefaultOptions() Options {
	return Options{
		WriteQueueSize:    100,
		WriteWait:         5 * time.Second,
		PongWait:          60 * time.Second,
		PingInterval:      30 * time.Second,
		MaxFrameBytes:     128 << 10,
		MessagesPerMinute: 100,
		RequestTimeout:    10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteQueueSize <= 0 {
		o.WriteQueueSize = d.WriteQueueSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = d.MaxFrameBytes
	}
	if o.MessagesPerMinute <= 0 {
		o.MessagesPerMinute = d.MessagesPerMinute
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	return o
}
