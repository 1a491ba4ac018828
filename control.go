package ocap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	vathandle "github.com/viant/ocap/service/vat"
	"go.uber.org/zap"
)

// VatStatus describes one running vat.
type VatStatus struct {
	ID     ref.VatID   `json:"id"`
	Config *vat.Config `json:"config"`
}

// Status is the result of GetStatus.
type Status struct {
	Vats          []VatStatus        `json:"vats"`
	ClusterConfig *vat.ClusterConfig `json:"clusterConfig"`
}

// LaunchVat starts a new vat and returns the kernel ref of its root object.
func (k *Kernel) LaunchVat(ctx context.Context, config *vat.Config) (ref.KRef, error) {
	if err := config.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	defer k.processExits(ctx)
	return k.launchVat(ctx, config)
}

func (k *Kernel) launchVat(ctx context.Context, config *vat.Config) (root ref.KRef, err error) {
	defer types.Recover(&err)
	vatID := k.store.GetNextVatID()
	if _, ok := k.handle(vatID); ok {
		return "", &types.VatAlreadyExistsError{VatID: string(vatID)}
	}
	k.store.InitEndpoint(vatID)
	if _, err = k.startVat(ctx, vatID, config); err != nil {
		k.store.MarkVatAsTerminated(vatID)
		return "", err
	}
	root, ok := k.store.ERefToKRef(vatID, ref.RootObject)
	if !ok {
		root = k.store.ExportFromVat(vatID, ref.RootObject)
	}
	k.store.SetVatConfig(vatID, config)
	k.logger.Info("vat launched", zap.String("vatId", string(vatID)), zap.String("root", string(root)), zap.String("source", config.Source()))
	return root, nil
}

// TerminateVat stops a vat for good. Promises it decides are rejected and its
// store entries are removed by the next garbage collection. A delivery in
// flight to the vat is failed rather than awaited.
func (k *Kernel) TerminateVat(ctx context.Context, vatID ref.VatID) error {
	k.interrupt(vatID)
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.terminateVat(ctx, vatID, nil)
}

func (k *Kernel) terminateVat(ctx context.Context, vatID ref.VatID, info *capdata.CapData) (err error) {
	defer types.Recover(&err)
	handle, ok := k.unregister(vatID)
	if !ok {
		if _, recorded := k.store.GetVatConfig(vatID); !recorded {
			return &types.VatNotFoundError{VatID: string(vatID)}
		}
	}
	var errs []error
	if ok {
		if err := handle.Terminate(ctx, true, info); err != nil {
			k.logger.Warn("vat bridge closed with error", zap.String("vatId", string(vatID)), zap.Error(err))
		}
		if err := k.workers.Terminate(ctx, vatID); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop worker of vat %v: %w", vatID, err))
		}
	}
	k.store.DeleteVatConfig(vatID)
	k.store.MarkVatAsTerminated(vatID)
	k.store.UnparkSends(vatID)
	k.queue.Signal()
	k.logger.Info("vat terminated", zap.String("vatId", string(vatID)))
	return errors.Join(errs...)
}

// RestartVat ends the bridge of a vat without deleting its state and starts
// it again from its stored config. When the relaunch fails the vat is left
// absent from the registry. A delivery in flight is awaited, so a hung vat
// restarts only once its call times out.
func (k *Kernel) RestartVat(ctx context.Context, vatID ref.VatID) (*vathandle.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	defer k.processExits(ctx)
	return k.restartVat(ctx, vatID)
}

func (k *Kernel) restartVat(ctx context.Context, vatID ref.VatID) (ret *vathandle.Handle, err error) {
	defer types.Recover(&err)
	config, recorded := k.store.GetVatConfig(vatID)
	handle, running := k.handle(vatID)
	if !running && !recorded {
		return nil, &types.VatNotFoundError{VatID: string(vatID)}
	}
	if running {
		k.unregister(vatID)
		if err := handle.Terminate(ctx, false, nil); err != nil {
			k.logger.Warn("vat bridge closed with error", zap.String("vatId", string(vatID)), zap.Error(err))
		}
		if err := k.workers.Terminate(ctx, vatID); err != nil {
			k.logger.Warn("failed to stop worker", zap.String("vatId", string(vatID)), zap.Error(err))
		}
		if !recorded {
			config = handle.Config()
		}
	}
	if ret, err = k.startVat(ctx, vatID, config); err != nil {
		return nil, fmt.Errorf("failed to restart vat %v: %w", vatID, err)
	}
	k.logger.Info("vat restarted", zap.String("vatId", string(vatID)))
	return ret, nil
}

// TerminateAllVats terminates every vat, most recently launched first, and
// collects garbage after each.
func (k *Kernel) TerminateAllVats(ctx context.Context) error {
	k.interrupt(k.running()...)
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.terminateAllVats(ctx)
}

func (k *Kernel) terminateAllVats(ctx context.Context) error {
	ids := k.store.GetVatIDs()
	for _, vatID := range k.running() {
		if !slices.Contains(ids, vatID) {
			ids = append(ids, vatID)
		}
	}
	slices.SortFunc(ids, compareVatIDs)
	slices.Reverse(ids)
	var errs []error
	for _, vatID := range ids {
		if err := k.terminateVat(ctx, vatID, nil); err != nil {
			errs = append(errs, err)
		}
		if err := k.collectGarbage(); err != nil {
			return errors.Join(append(errs, err)...)
		}
	}
	return errors.Join(errs...)
}

// compareVatIDs orders vat ids by launch, numerically.
func compareVatIDs(a, b ref.VatID) int {
	x, errX := strconv.Atoi(strings.TrimPrefix(string(a), "v"))
	y, errY := strconv.Atoi(strings.TrimPrefix(string(b), "v"))
	if errX != nil || errY != nil {
		return strings.Compare(string(a), string(b))
	}
	return x - y
}

// QueueMessage sends method(args) to target from outside any vat and waits
// for the result promise to settle. A rejection is returned as the value it
// was rejected with.
func (k *Kernel) QueueMessage(ctx context.Context, target ref.KRef, method string, args []interface{}) (capdata.CapData, error) {
	methargs, err := capdata.Methargs(method, args)
	if err != nil {
		return capdata.CapData{}, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	k.mu.Lock()
	resolved, err := k.queueMessage(target, methargs)
	k.mu.Unlock()
	if err != nil {
		return capdata.CapData{}, err
	}
	select {
	case resolution := <-resolved:
		return resolution.Value, nil
	case <-ctx.Done():
		return capdata.CapData{}, ctx.Err()
	}
}

func (k *Kernel) queueMessage(target ref.KRef, methargs capdata.CapData) (ret <-chan capdata.Resolution, err error) {
	defer types.Recover(&err)
	switch {
	case target.IsObject():
		if !k.store.KernelObjectExists(target) {
			return nil, fmt.Errorf("%w: kernel object %v", types.ErrNotFound, target)
		}
	case target.IsPromise():
		if !k.store.KernelPromiseExists(target) {
			return nil, fmt.Errorf("%w: kernel promise %v", types.ErrNotFound, target)
		}
	default:
		return nil, fmt.Errorf("%w: invalid target %q", types.ErrInvalidParams, target)
	}
	kpid, _ := k.store.InitKernelPromise()
	result := string(kpid)
	k.queue.EnqueueSend(target, capdata.Message{Methargs: methargs, Result: &result})
	return k.queue.Subscribe(kpid), nil
}

// LaunchSubcluster launches every vat of config in name order and, when a
// bootstrap vat is named, sends it bootstrap(vats, {}) where vats maps each
// vat name to its root object. The bootstrap result is returned; without a
// bootstrap vat the result is nil.
func (k *Kernel) LaunchSubcluster(ctx context.Context, config *vat.ClusterConfig) (*capdata.CapData, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	if config.ForceReset {
		k.interrupt(k.running()...)
	}
	k.mu.Lock()
	resolved, err := k.launchSubcluster(ctx, config)
	k.processExits(ctx)
	k.mu.Unlock()
	if err != nil || resolved == nil {
		return nil, err
	}
	select {
	case resolution := <-resolved:
		return &resolution.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *Kernel) launchSubcluster(ctx context.Context, config *vat.ClusterConfig) (ret <-chan capdata.Resolution, err error) {
	defer types.Recover(&err)
	if config.ForceReset {
		if err = k.terminateAllVats(ctx); err != nil {
			return nil, err
		}
		k.store.Reset()
	}
	k.store.SetClusterConfig(config)
	names := config.VatNames()
	roots := make(map[string]ref.KRef, len(names))
	for _, name := range names {
		root, err := k.launchVat(ctx, config.Vats[name])
		if err != nil {
			return nil, fmt.Errorf("failed to launch vat %q: %w", name, err)
		}
		roots[name] = root
	}
	if config.Bootstrap == "" {
		return nil, nil
	}
	vats := make(map[string]string, len(names))
	slots := make([]string, len(names))
	for i, name := range names {
		vats[name] = fmt.Sprintf("$%d.Alleged: %v", i, name)
		slots[i] = string(roots[name])
	}
	methargs, err := capdata.Methargs("bootstrap", []interface{}{vats, map[string]interface{}{}}, slots...)
	if err != nil {
		return nil, err
	}
	return k.queueMessage(roots[config.Bootstrap], methargs)
}

// PinVatRoot keeps the root object of vatID alive regardless of references.
func (k *Kernel) PinVatRoot(vatID ref.VatID) (ref.KRef, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	root, err := k.vatRoot(vatID)
	if err != nil {
		return "", err
	}
	k.store.PinObject(root)
	return root, nil
}

// UnpinVatRoot releases a pin taken by PinVatRoot.
func (k *Kernel) UnpinVatRoot(vatID ref.VatID) (ref.KRef, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	root, err := k.vatRoot(vatID)
	if err != nil {
		return "", err
	}
	k.store.UnpinObject(root)
	k.queue.Signal()
	return root, nil
}

func (k *Kernel) vatRoot(vatID ref.VatID) (ref.KRef, error) {
	root, ok := k.store.ERefToKRef(vatID, ref.RootObject)
	if !ok {
		return "", fmt.Errorf("%w: vat %v has no root object", types.ErrNotFound, vatID)
	}
	return root, nil
}

// CollectGarbage sweeps terminated vats, frees unreferenced objects and
// promises, and asks every live vat to bring out its dead.
func (k *Kernel) CollectGarbage() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.collectGarbage(); err != nil {
		return err
	}
	for _, vatID := range k.running() {
		k.store.ScheduleReap(vatID)
	}
	k.queue.Signal()
	return nil
}

func (k *Kernel) collectGarbage() (err error) {
	defer types.Recover(&err)
	for k.store.NextTerminatedVatCleanup() {
	}
	k.store.CollectGarbage()
	return nil
}

// ClearState terminates every vat and deletes all persisted state.
func (k *Kernel) ClearState(ctx context.Context) error {
	k.interrupt(k.running()...)
	k.mu.Lock()
	defer k.mu.Unlock()
	err := k.terminateAllVats(ctx)
	k.store.Reset()
	k.logger.Info("kernel state cleared")
	return err
}

// Reload terminates every vat and relaunches the last subcluster.
func (k *Kernel) Reload(ctx context.Context) (*capdata.CapData, error) {
	k.mu.Lock()
	config, ok := k.store.GetClusterConfig()
	k.mu.Unlock()
	if !ok {
		return nil, &types.SubclusterNotFoundError{}
	}
	k.interrupt(k.running()...)
	k.mu.Lock()
	err := k.terminateAllVats(ctx)
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return k.LaunchSubcluster(ctx, config)
}

// GetStatus lists the running vats and the current cluster config.
func (k *Kernel) GetStatus() *Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	ret := &Status{Vats: []VatStatus{}}
	for _, vatID := range k.running() {
		if handle, ok := k.handle(vatID); ok {
			ret.Vats = append(ret.Vats, VatStatus{ID: vatID, Config: handle.Config()})
		}
	}
	if config, ok := k.store.GetClusterConfig(); ok {
		ret.ClusterConfig = config
	}
	return ret
}

// UpdateClusterConfig replaces the stored cluster config without launching.
func (k *Kernel) UpdateClusterConfig(config *vat.ClusterConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.store.SetClusterConfig(config)
	return nil
}

// PingVat checks that the worker of vatID answers.
func (k *Kernel) PingVat(ctx context.Context, vatID ref.VatID) (err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	defer k.processExits(ctx)
	defer types.Recover(&err)
	handle, ok := k.handle(vatID)
	if !ok {
		return &types.VatNotFoundError{VatID: string(vatID)}
	}
	return handle.Ping(ctx)
}

// SendVatCommand passes a raw request to the worker of vatID.
func (k *Kernel) SendVatCommand(ctx context.Context, vatID ref.VatID, method string, params json.RawMessage) (ret json.RawMessage, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	defer k.processExits(ctx)
	defer types.Recover(&err)
	handle, ok := k.handle(vatID)
	if !ok {
		return nil, &types.VatNotFoundError{VatID: string(vatID)}
	}
	return handle.SendVatCommand(ctx, method, params)
}

// ExecuteDBQuery runs SQL against the storage engine when it supports it.
func (k *Kernel) ExecuteDBQuery(ctx context.Context, SQL string) ([]map[string]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.ExecuteQuery(ctx, SQL)
}
