package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHTTPTimeout bounds every REST call.
	DefaultHTTPTimeout = 10 * time.Second

	// Watchdog bounds for the stream connection timeout. A configured
	// timeout outside [WatchdogMin, WatchdogMax] is clamped.
	WatchdogDefault = 20 * time.Second
	WatchdogMin     = 3 * time.Second
	WatchdogMax     = 60 * time.Second
)

// Options configures a transport.
type Options struct {
	// Session shared with the other transport. A fresh one is created
	// when nil.
	Session *Session

	// ConnectionTimeout arms the stream watchdog: a socket that has not
	// reached Open when it fires is forcibly closed. Zero selects
	// WatchdogDefault; other values are clamped to [WatchdogMin,
	// WatchdogMax].
	ConnectionTimeout time.Duration

	// HTTPTimeout bounds REST calls. Zero selects DefaultHTTPTimeout.
	HTTPTimeout time.Duration

	Log *zap.Logger
}

func (o Options) session() *Session {
	if o.Session == nil {
		return NewSession()
	}

	return o.Session
}

func (o Options) log() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}

	return o.Log
}

func (o Options) watchdog() time.Duration {
	switch {
	case o.ConnectionTimeout == 0:
		return WatchdogDefault
	case o.ConnectionTimeout < WatchdogMin:
		return WatchdogMin
	case o.ConnectionTimeout > WatchdogMax:
		return WatchdogMax
	}

	return o.ConnectionTimeout
}

func (o Options) httpTimeout() time.Duration {
	if o.HTTPTimeout == 0 {
		return DefaultHTTPTimeout
	}

	return o.HTTPTimeout
}
