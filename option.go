package ocap

import (
	"time"

	"github.com/viant/ocap/service/kv"
	"github.com/viant/ocap/service/worker"
	"go.uber.org/zap"
)

// Option configures a Kernel.
type Option func(k *Kernel)

// WithConfig sets the kernel configuration.
func WithConfig(config *Config) Option {
	return func(k *Kernel) {
		k.config = config
	}
}

// WithStore sets the storage engine, overriding the configured driver. The
// caller keeps ownership and closes it.
func WithStore(store kv.Store) Option {
	return func(k *Kernel) {
		k.kv = store
	}
}

// WithWorkerService sets the service starting vat workers.
func WithWorkerService(workers worker.Service) Option {
	return func(k *Kernel) {
		k.workers = workers
	}
}

// WithLogger sets the kernel logger.
func WithLogger(logger *zap.Logger) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithRPCTimeout bounds every outbound vat RPC.
func WithRPCTimeout(timeout time.Duration) Option {
	return func(k *Kernel) {
		k.rpcTimeout = timeout
	}
}

// WithResetStorage clears persisted state on start.
func WithResetStorage(reset bool) Option {
	return func(k *Kernel) {
		k.resetStorage = &reset
	}
}
