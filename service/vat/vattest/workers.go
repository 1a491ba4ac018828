package vattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/messaging/memory"
	"github.com/viant/ocap/service/rpc"
)

// Workers is a worker.Service launching fake vats in process.
type Workers struct {
	options    func(vatID ref.VatID, config *vat.Config) []Option
	mu         sync.Mutex
	vats       map[ref.VatID]*Vat
	launched   []ref.VatID
	terminated []ref.VatID
	launchErr  error
}

// NewWorkers creates the service; options picks the behaviour of each vat.
func NewWorkers(options func(vatID ref.VatID, config *vat.Config) []Option) *Workers {
	if options == nil {
		options = func(ref.VatID, *vat.Config) []Option { return []Option{WithHandler(Echo)} }
	}
	return &Workers{options: options, vats: map[ref.VatID]*Vat{}}
}

// FailLaunch makes subsequent launches fail with err.
func (w *Workers) FailLaunch(err error) {
	w.mu.Lock()
	w.launchErr = err
	w.mu.Unlock()
}

func (w *Workers) Launch(ctx context.Context, vatID ref.VatID, config *vat.Config) (messaging.Stream[rpc.Message], error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.launchErr != nil {
		return nil, w.launchErr
	}
	if _, ok := w.vats[vatID]; ok {
		return nil, fmt.Errorf("worker for %v already running", vatID)
	}
	kernel, worker := memory.NewPair[rpc.Message](messaging.DefaultConfig())
	w.vats[vatID] = Serve(context.Background(), vatID, worker, w.options(vatID, config)...)
	w.launched = append(w.launched, vatID)
	return kernel, nil
}

func (w *Workers) Terminate(ctx context.Context, vatID ref.VatID) error {
	w.mu.Lock()
	worker, ok := w.vats[vatID]
	delete(w.vats, vatID)
	if ok {
		w.terminated = append(w.terminated, vatID)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker for %v", vatID)
	}
	worker.Close()
	return nil
}

func (w *Workers) TerminateAll(ctx context.Context) error {
	w.mu.Lock()
	ids := make([]ref.VatID, 0, len(w.vats))
	for vatID := range w.vats {
		ids = append(ids, vatID)
	}
	w.mu.Unlock()
	for _, vatID := range ids {
		_ = w.Terminate(ctx, vatID)
	}
	return nil
}

// Vat returns the running fake for vatID.
func (w *Workers) Vat(vatID ref.VatID) *Vat {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vats[vatID]
}

// Launched returns launch order.
func (w *Workers) Launched() []ref.VatID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ref.VatID(nil), w.launched...)
}

// Terminated returns termination order.
func (w *Workers) Terminated() []ref.VatID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ref.VatID(nil), w.terminated...)
}
