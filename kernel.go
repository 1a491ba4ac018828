package ocap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/viant/ocap/internal/clock"
	"github.com/viant/ocap/logging"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/kv"
	"github.com/viant/ocap/service/kv/memory"
	"github.com/viant/ocap/service/kv/sqlite"
	"github.com/viant/ocap/service/router"
	"github.com/viant/ocap/service/runqueue"
	"github.com/viant/ocap/service/store"
	vathandle "github.com/viant/ocap/service/vat"
	"github.com/viant/ocap/service/worker"
	"github.com/viant/ocap/service/worker/exec"
	"github.com/viant/ocap/service/worker/ssh"
	"github.com/viant/ocap/tracing"
	"go.uber.org/zap"
)

// Version is reported in traces.
const Version = "0.1.0"

type exitRequest struct {
	vatID   ref.VatID
	failure bool
	info    capdata.CapData
}

// Kernel owns the identity store, the run queue and the registry of running
// vats. The store and queue are only touched under mu, by the run loop one
// crank at a time or by a control operation. The registry has its own lock,
// taken after mu or alone, so that a vat can be interrupted while a crank
// waits on it.
type Kernel struct {
	config       *Config
	kv           kv.Store
	ownsKV       bool
	store        *store.Store
	queue        *runqueue.Service
	router       *router.Service
	workers      worker.Service
	logger       *zap.Logger
	rpcTimeout   time.Duration
	resetStorage *bool

	mu sync.Mutex

	registryMu sync.RWMutex
	vats       map[ref.VatID]*vathandle.Handle

	exitMu sync.Mutex
	exits  []exitRequest

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New creates a kernel and resumes every vat recorded in its store. A vat
// that fails to resume is logged and left absent from the registry.
func New(ctx context.Context, options ...Option) (*Kernel, error) {
	ret := &Kernel{vats: map[ref.VatID]*vathandle.Handle{}}
	for _, option := range options {
		option(ret)
	}
	if err := ret.init(); err != nil {
		return nil, err
	}
	if err := ret.restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore vats: %w", err)
	}
	return ret, nil
}

func (k *Kernel) init() (err error) {
	if k.config == nil {
		k.config = DefaultConfig()
	}
	if err = k.config.Validate(); err != nil {
		return fmt.Errorf("invalid kernel config: %w", err)
	}
	if k.logger == nil {
		if k.logger, err = logging.New(k.config.Logging); err != nil {
			return err
		}
	}
	if k.rpcTimeout == 0 {
		k.rpcTimeout = k.config.Vat.Timeout()
	}
	if k.config.Tracing.Enabled {
		if err = tracing.Init("ocap", Version, k.config.Tracing.Output); err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
	}
	if k.kv == nil {
		if k.kv, err = openKV(k.config.Store); err != nil {
			return err
		}
		k.ownsKV = true
	}
	if k.workers == nil {
		k.workers = newWorkers(k.config.Worker, k.logger.Named("worker"))
	}
	k.store = store.New(k.kv, store.WithLogger(k.logger.Named("store")))
	reset := k.config.ResetStorage
	if k.resetStorage != nil {
		reset = *k.resetStorage
	}
	if reset {
		k.store.Reset()
	}
	k.queue = runqueue.New(k.store, runqueue.WithLogger(k.logger.Named("queue")))
	k.router = router.New(k.store, k.queue, k.lookup, router.WithLogger(k.logger.Named("router")))
	return nil
}

func openKV(config StoreConfig) (kv.Store, error) {
	switch config.Driver {
	case DriverSQLite:
		ret, err := sqlite.New(config.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store %v: %w", config.Path, err)
		}
		return ret, nil
	}
	return memory.New(), nil
}

func newWorkers(config WorkerConfig, logger *zap.Logger) worker.Service {
	if config.Driver == WorkerSSH {
		return ssh.New(*config.SSH, config.Runner, config.Args, logger)
	}
	return exec.New(config.Runner, exec.WithArgs(config.Args...), exec.WithLogger(logger))
}

func (k *Kernel) restore(ctx context.Context) (err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	defer types.Recover(&err)
	var records []vat.Record
	for record := range k.store.GetAllVatRecords() {
		records = append(records, record)
	}
	for _, record := range records {
		if _, err := k.startVat(ctx, record.VatID, record.Config); err != nil {
			k.logger.Error("failed to resume vat", zap.String("vatId", string(record.VatID)), zap.Error(err))
			continue
		}
		k.logger.Info("vat resumed", zap.String("vatId", string(record.VatID)))
	}
	k.processExits(ctx)
	return nil
}

// Store exposes the identity store. It must not be used while the run loop
// is active.
func (k *Kernel) Store() *store.Store {
	return k.store
}

// Logger returns the kernel logger.
func (k *Kernel) Logger() *zap.Logger {
	return k.logger
}

func (k *Kernel) lookup(vatID ref.VatID) (router.Vat, bool) {
	handle, ok := k.handle(vatID)
	if !ok || handle.State() == vathandle.Terminated {
		return nil, false
	}
	return handle, true
}

func (k *Kernel) handle(vatID ref.VatID) (*vathandle.Handle, bool) {
	k.registryMu.RLock()
	defer k.registryMu.RUnlock()
	ret, ok := k.vats[vatID]
	return ret, ok
}

func (k *Kernel) register(vatID ref.VatID, handle *vathandle.Handle) {
	k.registryMu.Lock()
	defer k.registryMu.Unlock()
	k.vats[vatID] = handle
}

func (k *Kernel) unregister(vatID ref.VatID) (*vathandle.Handle, bool) {
	k.registryMu.Lock()
	defer k.registryMu.Unlock()
	ret, ok := k.vats[vatID]
	delete(k.vats, vatID)
	return ret, ok
}

// running returns the registered vats in launch order.
func (k *Kernel) running() []ref.VatID {
	k.registryMu.RLock()
	defer k.registryMu.RUnlock()
	ret := make([]ref.VatID, 0, len(k.vats))
	for vatID := range k.vats {
		ret = append(ret, vatID)
	}
	slices.SortFunc(ret, compareVatIDs)
	return ret
}

// interrupt stops the bridges of vatIDs without taking mu. A delivery in
// flight to one of them fails with a vat deleted error, which lets the crank
// holding mu finish.
func (k *Kernel) interrupt(vatIDs ...ref.VatID) {
	for _, vatID := range vatIDs {
		handle, ok := k.handle(vatID)
		if !ok {
			continue
		}
		if err := handle.Stop(); err != nil {
			k.logger.Warn("vat bridge closed with error", zap.String("vatId", string(vatID)), zap.Error(err))
		}
	}
}

// startVat launches a worker and bridges it. The caller holds mu.
func (k *Kernel) startVat(ctx context.Context, vatID ref.VatID, config *vat.Config) (*vathandle.Handle, error) {
	if _, ok := k.handle(vatID); ok {
		return nil, &types.VatAlreadyExistsError{VatID: string(vatID)}
	}
	stream, err := k.workers.Launch(ctx, vatID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to launch worker for vat %v: %w", vatID, err)
	}
	handle, err := vathandle.New(ctx, vatID, config, stream, k.store, k.queue,
		vathandle.WithLogger(k.logger.Named("vat")),
		vathandle.WithRPCTimeout(k.rpcTimeout),
		vathandle.WithExitHandler(k.onExit))
	if err != nil {
		if terminateErr := k.workers.Terminate(ctx, vatID); terminateErr != nil {
			k.logger.Warn("failed to stop worker", zap.String("vatId", string(vatID)), zap.Error(terminateErr))
		}
		return nil, err
	}
	k.register(vatID, handle)
	if parked := k.store.UnparkSends(vatID); parked > 0 {
		k.logger.Info("parked sends requeued", zap.String("vatId", string(vatID)), zap.Int("count", parked))
		k.queue.Signal()
	}
	return handle, nil
}

// onExit runs on the goroutine of the vat call issuing the exit syscall,
// which may hold mu, so it only records the request.
func (k *Kernel) onExit(vatID ref.VatID, failure bool, info capdata.CapData) {
	k.exitMu.Lock()
	k.exits = append(k.exits, exitRequest{vatID: vatID, failure: failure, info: info})
	k.exitMu.Unlock()
}

// processExits terminates vats that asked to exit. The caller holds mu.
func (k *Kernel) processExits(ctx context.Context) {
	k.exitMu.Lock()
	exits := k.exits
	k.exits = nil
	k.exitMu.Unlock()
	for _, exit := range exits {
		info := exit.info
		err := k.terminateVat(ctx, exit.vatID, &info)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			k.logger.Warn("failed to terminate exiting vat", zap.String("vatId", string(exit.vatID)), zap.Error(err))
			continue
		}
		k.logger.Info("vat exited", zap.String("vatId", string(exit.vatID)), zap.Bool("failure", exit.failure))
	}
}

// Run processes the run queue until ctx is cancelled or a crank fails
// fatally. Fatal errors are logged and returned; they mean the store can no
// longer be trusted.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := k.crank(ctx)
		if err != nil {
			k.logger.Error("kernel run loop halted", zap.Error(err))
			return err
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-k.queue.Wake():
		}
	}
}

// crank routes one queue item. Deliveries are not cancelled with ctx so that
// an item is never half applied.
func (k *Kernel) crank(ctx context.Context) (processed bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	defer types.Recover(&err)
	item := k.queue.NextItem()
	if item == nil {
		return false, nil
	}
	crankCtx, span := tracing.StartSpan(context.WithoutCancel(ctx), "crank", tracing.KindInternal)
	span.WithAttributes(map[string]string{"item": string(item.Type)})
	started := clock.Now()
	deliverErr := k.router.Deliver(crankCtx, item)
	tracing.EndSpan(span, deliverErr)
	k.logger.Debug("crank", zap.String("item", string(item.Type)), zap.Duration("elapsed", clock.Since(started)))
	if deliverErr != nil {
		var deliveryErr *router.DeliveryError
		if !errors.As(deliverErr, &deliveryErr) {
			return true, deliverErr
		}
		var deleted *types.VatDeletedError
		if errors.As(deliveryErr.Err, &deleted) {
			k.logger.Info("delivery interrupted", zap.String("vatId", string(deliveryErr.VatID)))
		} else {
			k.logger.Warn("delivery failed, terminating vat", zap.String("vatId", string(deliveryErr.VatID)), zap.Error(deliveryErr.Err))
			k.onExit(deliveryErr.VatID, true, capdata.Error(deliveryErr.Err.Error()))
		}
	}
	k.store.CollectGarbage()
	k.processExits(crankCtx)
	return true, nil
}

// Start runs the run loop in the background.
func (k *Kernel) Start(ctx context.Context) {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	if k.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		err := k.Run(runCtx)
		k.runMu.Lock()
		k.runErr = err
		k.runMu.Unlock()
	}(k.done)
}

// Err returns the error that halted the background run loop, if any.
func (k *Kernel) Err() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	return k.runErr
}

// Shutdown stops the run loop, ends every vat bridge without deleting vat
// state and stops all workers. Persisted state survives for a later New.
// When ctx expires before the current crank finishes, its vat is interrupted.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.runMu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.runMu.Unlock()
	var errs []error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			k.interrupt(k.running()...)
			<-done
		}
	}

	k.mu.Lock()
	for _, vatID := range k.running() {
		handle, _ := k.unregister(vatID)
		if err := handle.Terminate(ctx, false, nil); err != nil {
			errs = append(errs, err)
		}
	}
	k.mu.Unlock()

	if err := k.workers.TerminateAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if k.ownsKV {
		if err := k.kv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if k.config.Tracing.Enabled {
		if err := tracing.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
