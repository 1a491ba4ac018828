package exec

import (
	"time"

	"github.com/viant/ocap/service/messaging"
	"go.uber.org/zap"
)

// Option configures the service.
type Option func(*Service)

// WithArgs sets arguments placed before the vat source.
func WithArgs(args ...string) Option {
	return func(s *Service) {
		s.args = args
	}
}

// WithStreamConfig sets the worker stream configuration.
func WithStreamConfig(config messaging.Config) Option {
	return func(s *Service) {
		s.stream = config
	}
}

// WithGracePeriod bounds how long Terminate waits before killing a worker.
func WithGracePeriod(period time.Duration) Option {
	return func(s *Service) {
		s.gracePeriod = period
	}
}

// WithLogger sets the logger; worker stderr is written to it.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
