package vat

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Handle.
type Option func(*Handle)

// WithLogger sets the logger; vat log notifications are re-emitted through it
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithRPCTimeout bounds every outbound call; zero waits indefinitely
func WithRPCTimeout(timeout time.Duration) Option {
	return func(h *Handle) {
		h.rpcTimeout = timeout
	}
}

// WithExitHandler sets the callback run when the vat exits or misbehaves
func WithExitHandler(handler ExitHandler) Option {
	return func(h *Handle) {
		h.onExit = handler
	}
}
