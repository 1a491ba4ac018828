// Package vat bridges the kernel and one vat worker: it forwards deliveries
// over the worker stream, persists checkpoints and applies the syscalls the
// worker issues while a delivery is in flight.
package vat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/ocap/logging"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/syscall"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/kv"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/rpc"
	"github.com/viant/ocap/service/store"
	"github.com/viant/ocap/tracing"
	"go.uber.org/zap"
)

// Methods exchanged with a vat worker.
const (
	MethodInitVat       = "initVat"
	MethodDeliver       = "deliver"
	MethodPing          = "ping"
	MethodHandleSyscall = "handleSyscall"
	MethodLog           = "log"
)

// State is the lifecycle state of a Handle.
type State int32

const (
	Initializing State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	}
	return "terminated"
}

// Handle is the kernel side of one running vat.
type Handle struct {
	vatID      ref.VatID
	config     *vat.Config
	stream     messaging.Stream[rpc.Message]
	store      *store.Store
	queue      Queue
	syscall    *Syscall
	pending    *rpc.Pending
	logger     *zap.Logger
	rpcTimeout time.Duration
	onExit     ExitHandler

	state     atomic.Int32
	stopped   atomic.Bool
	finalized atomic.Bool
	inbound   chan *rpc.Message
	readErr   error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	callMu    sync.Mutex
}

// New starts the bridge to the worker behind stream and initialises the vat
// with its persisted state. The handle is terminated (not final) when
// initialisation fails.
func New(ctx context.Context, vatID ref.VatID, config *vat.Config, stream messaging.Stream[rpc.Message], kernelStore *store.Store, queue Queue, options ...Option) (*Handle, error) {
	ret := &Handle{
		vatID:   vatID,
		config:  config,
		stream:  stream,
		store:   kernelStore,
		queue:   queue,
		pending: rpc.NewPending(string(vatID)),
		logger:  zap.NewNop(),
		inbound: make(chan *rpc.Message, 16),
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.With(zap.String("vatId", string(vatID)))
	ret.syscall = NewSyscall(vatID, kernelStore, queue, ret.exit, ret.logger)

	readCtx, cancel := context.WithCancel(context.Background())
	ret.cancel = cancel
	ret.wg.Add(1)
	go ret.readLoop(readCtx)

	if err := ret.init(ctx); err != nil {
		_ = ret.Terminate(ctx, false, nil)
		return nil, fmt.Errorf("failed to initialise vat %v: %w", vatID, err)
	}
	ret.state.Store(int32(Running))
	return ret, nil
}

func (h *Handle) init(ctx context.Context) error {
	params := &vat.InitParams{VatConfig: h.config, State: [][2]string{}}
	for _, pair := range h.store.GetVatKVData(h.vatID) {
		params.State = append(params.State, [2]string{pair.Key, pair.Value})
	}
	response, err := h.call(ctx, MethodInitVat, params)
	if err != nil {
		return err
	}
	return h.applyCheckpoint(response)
}

// VatID returns the vat id.
func (h *Handle) VatID() ref.VatID { return h.vatID }

// Config returns the vat config.
func (h *Handle) Config() *vat.Config { return h.config }

// State returns the lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Deliver sends delivery to the vat and persists the checkpoint it returns.
func (h *Handle) Deliver(ctx context.Context, delivery *vat.Delivery) (err error) {
	ctx, span := tracing.StartSpan(ctx, "vat.deliver."+string(delivery.Type), tracing.KindClient)
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"vat.id": string(h.vatID)})
	response, err := h.call(ctx, MethodDeliver, delivery)
	if err != nil {
		return err
	}
	return h.applyCheckpoint(response)
}

func (h *Handle) DeliverMessage(ctx context.Context, target ref.ERef, message capdata.Message) error {
	return h.Deliver(ctx, vat.MessageDelivery(target, message))
}

func (h *Handle) DeliverNotify(ctx context.Context, resolutions []capdata.Resolution) error {
	return h.Deliver(ctx, vat.NotifyDelivery(resolutions))
}

func (h *Handle) DeliverDropExports(ctx context.Context, refs []ref.ERef) error {
	return h.Deliver(ctx, vat.GCDelivery(vat.DeliveryDropExports, refs))
}

func (h *Handle) DeliverRetireExports(ctx context.Context, refs []ref.ERef) error {
	return h.Deliver(ctx, vat.GCDelivery(vat.DeliveryRetireExports, refs))
}

func (h *Handle) DeliverRetireImports(ctx context.Context, refs []ref.ERef) error {
	return h.Deliver(ctx, vat.GCDelivery(vat.DeliveryRetireImports, refs))
}

func (h *Handle) DeliverBringOutYourDead(ctx context.Context) error {
	return h.Deliver(ctx, vat.BringOutYourDeadDelivery())
}

// Ping checks that the worker answers.
func (h *Handle) Ping(ctx context.Context) error {
	response, err := h.call(ctx, MethodPing, nil)
	if err != nil {
		return err
	}
	var reply string
	if err := response.DecodeResult(&reply); err != nil {
		return err
	}
	if reply != "pong" {
		return fmt.Errorf("%w: unexpected ping reply %q", types.ErrProtocol, reply)
	}
	return nil
}

// SendVatCommand passes an arbitrary request through to the worker.
func (h *Handle) SendVatCommand(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	var payload interface{}
	if len(params) > 0 {
		payload = params
	}
	response, err := h.call(ctx, method, payload)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, response.Error
	}
	return response.Result, nil
}

// Stop ends the stream and fails every outstanding call with a vat deleted
// error. It leaves the store alone, so it may run while another goroutine
// waits on a call. Only the first Stop reports the close error.
func (h *Handle) Stop() error {
	h.state.Store(int32(Terminated))
	if !h.stopped.CompareAndSwap(false, true) {
		return nil
	}
	h.cancel()
	closeErr := h.stream.Close()
	h.wg.Wait()
	h.pending.RejectAll(&types.VatDeletedError{VatID: string(h.vatID)})
	h.logger.Info("vat stopped")
	return closeErr
}

// Terminate stops the handle. When final, the promises the vat was deciding
// are rejected with info, or a vat deleted error when info is nil, and its
// persisted state is removed; this happens once even after an earlier Stop.
func (h *Handle) Terminate(ctx context.Context, isFinal bool, info *capdata.CapData) error {
	closeErr := h.Stop()
	if !isFinal || !h.finalized.CompareAndSwap(false, true) {
		return closeErr
	}
	h.logger.Info("vat terminated", zap.Bool("final", isFinal))
	rejection := capdata.Error((&types.VatDeletedError{VatID: string(h.vatID)}).Error())
	if info != nil {
		rejection = info.Clone()
	}
	var resolutions []capdata.Resolution
	for _, kpid := range h.store.GetPromisesDecidedBy(h.vatID) {
		resolutions = append(resolutions, capdata.Resolution{Ref: string(kpid), Rejected: true, Value: rejection.Clone()})
	}
	var err error
	if len(resolutions) > 0 {
		err = h.queue.ResolvePromises(h.vatID, resolutions)
	}
	h.store.DeleteVatKVData(h.vatID)
	return errors.Join(closeErr, err)
}

func (h *Handle) exit(vatID ref.VatID, failure bool, info capdata.CapData) {
	if h.onExit != nil {
		h.onExit(vatID, failure, info)
	}
}

func (h *Handle) applyCheckpoint(response *rpc.Message) error {
	var checkpoint vat.Checkpoint
	if err := response.DecodeResult(&checkpoint); err != nil {
		return err
	}
	if checkpoint.Empty() {
		return nil
	}
	sets := make([]kv.Pair, len(checkpoint.Sets))
	for i, pair := range checkpoint.Sets {
		sets[i] = kv.Pair{Key: pair[0], Value: pair[1]}
	}
	h.store.UpdateVatKVData(h.vatID, sets, checkpoint.Deletes)
	return nil
}

// call issues one request and services inbound syscalls on the caller's
// goroutine until its response arrives. Calls are serialised.
func (h *Handle) call(ctx context.Context, method string, params interface{}) (*rpc.Message, error) {
	if h.State() == Terminated {
		return nil, &types.VatDeletedError{VatID: string(h.vatID)}
	}
	h.callMu.Lock()
	defer h.callMu.Unlock()
	if h.rpcTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.rpcTimeout)
		defer cancel()
	}
	id, outcome := h.pending.Register()
	request, err := rpc.NewRequest(id, method, params)
	if err != nil {
		h.pending.Cancel(id)
		return nil, err
	}
	if err := h.stream.Write(ctx, request); err != nil {
		h.pending.Cancel(id)
		if errors.Is(err, messaging.ErrClosed) {
			return nil, &types.VatDeletedError{VatID: string(h.vatID)}
		}
		return nil, &types.StreamReadError{VatID: string(h.vatID), Err: err}
	}
	for {
		select {
		case result := <-outcome:
			if result.Err != nil {
				return nil, result.Err
			}
			return result.Response, nil
		case message, ok := <-h.inbound:
			if !ok {
				select {
				case result := <-outcome:
					if result.Err != nil {
						return nil, result.Err
					}
					return result.Response, nil
				default:
				}
				h.pending.Cancel(id)
				if h.readErr != nil {
					return nil, h.readErr
				}
				return nil, &types.VatDeletedError{VatID: string(h.vatID)}
			}
			h.handleInbound(ctx, message)
		case <-ctx.Done():
			h.pending.Cancel(id)
			return nil, fmt.Errorf("%v call to vat %v: %w", method, h.vatID, ctx.Err())
		}
	}
}

func (h *Handle) handleInbound(ctx context.Context, message *rpc.Message) {
	if message.IsResponse() {
		if !h.pending.Complete(message) {
			h.logger.Warn("response to unknown request", zap.String("id", message.ID))
		}
		return
	}
	if message.Method != MethodHandleSyscall {
		h.respond(ctx, rpc.NewErrorResponse(message.ID, types.NewMethodNotFoundError(message.Method)))
		return
	}
	err := h.handleSyscall(ctx, message)
	if err == nil {
		response, _ := rpc.NewResult(message.ID, []interface{}{"ok", nil})
		h.respond(ctx, response)
		return
	}
	h.logger.Warn("illegal syscall", zap.Error(err))
	h.respond(ctx, rpc.NewErrorResponse(message.ID, err))
	h.exit(h.vatID, true, capdata.Error(err.Error()))
}

// handleSyscall returns the vat's protocol errors. Invariant violations keep
// panicking up to the caller of the delivery.
func (h *Handle) handleSyscall(ctx context.Context, message *rpc.Message) error {
	var sc syscall.Syscall
	if err := message.DecodeParams(&sc); err != nil {
		return err
	}
	return h.syscall.Handle(ctx, &sc)
}

func (h *Handle) respond(ctx context.Context, message *rpc.Message) {
	if message.ID == "" {
		return
	}
	if err := h.stream.Write(ctx, message); err != nil {
		h.logger.Warn("failed to answer vat", zap.String("id", message.ID), zap.Error(err))
	}
}

func (h *Handle) readLoop(ctx context.Context) {
	defer h.wg.Done()
	defer close(h.inbound)
	for {
		message, err := h.stream.Read(ctx)
		if err != nil {
			if h.State() != Terminated && ctx.Err() == nil {
				h.readErr = &types.StreamReadError{VatID: string(h.vatID), Err: err}
				h.logger.Error("vat stream failed", zap.Error(err))
				h.pending.RejectAll(h.readErr)
			}
			return
		}
		if message.Method == MethodLog && message.ID == "" {
			h.log(message)
			continue
		}
		select {
		case h.inbound <- message:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handle) log(message *rpc.Message) {
	var entry logging.Entry
	if err := message.DecodeParams(&entry); err != nil {
		h.logger.Warn("malformed vat log entry", zap.Error(err))
		return
	}
	logging.Write(h.logger, entry)
}
