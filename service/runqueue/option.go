package runqueue

import "go.uber.org/zap"

// Option configures a Service.
type Option func(s *Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
