// Package vattest provides in-process fake vat workers.
package vattest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/viant/ocap/logging"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/syscall"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/rpc"
)

// Handler reacts to a delivery; it may issue syscalls through v.
type Handler func(ctx context.Context, v *Vat, delivery *vat.Delivery) (*vat.Checkpoint, error)

// Command answers a passthrough request.
type Command func(params json.RawMessage) (interface{}, error)

// Option configures a Vat.
type Option func(*Vat)

// WithHandler sets the delivery handler.
func WithHandler(handler Handler) Option {
	return func(v *Vat) { v.handler = handler }
}

// WithCommand registers a passthrough method.
func WithCommand(method string, command Command) Option {
	return func(v *Vat) { v.commands[method] = command }
}

// WithInitCheckpoint sets the checkpoint returned by initVat.
func WithInitCheckpoint(checkpoint vat.Checkpoint) Option {
	return func(v *Vat) { v.initCheckpoint = checkpoint }
}

// WithInitError makes initVat fail.
func WithInitError(err error) Option {
	return func(v *Vat) { v.initErr = err }
}

// Vat is the worker end of a vat stream.
type Vat struct {
	ID             ref.VatID
	stream         messaging.Stream[rpc.Message]
	handler        Handler
	commands       map[string]Command
	initCheckpoint vat.Checkpoint
	initErr        error

	mu         sync.Mutex
	inits      []vat.InitParams
	deliveries []*vat.Delivery
	syscallErr []error
	nextID     int
	cancel     context.CancelFunc
	done       chan struct{}
}

// Serve answers requests arriving on stream until it closes. Handlers see a
// context cancelled by Close.
func Serve(ctx context.Context, vatID ref.VatID, stream messaging.Stream[rpc.Message], options ...Option) *Vat {
	ret := &Vat{ID: vatID, stream: stream, commands: map[string]Command{}, done: make(chan struct{})}
	for _, option := range options {
		option(ret)
	}
	ctx, ret.cancel = context.WithCancel(ctx)
	go ret.serve(ctx)
	return ret
}

// Done is closed once the worker stops serving.
func (v *Vat) Done() <-chan struct{} { return v.done }

// Close ends the worker's stream, as if the process died.
func (v *Vat) Close() {
	v.cancel()
	_ = v.stream.Close()
	<-v.done
}

// Inits returns the initVat parameters received so far.
func (v *Vat) Inits() []vat.InitParams {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]vat.InitParams(nil), v.inits...)
}

// Deliveries returns the deliveries received so far.
func (v *Vat) Deliveries() []*vat.Delivery {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*vat.Delivery(nil), v.deliveries...)
}

// SyscallErrors returns the errors the kernel answered syscalls with.
func (v *Vat) SyscallErrors() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.syscallErr...)
}

// Syscall issues sc and waits for the kernel's answer. It must be called from
// a Handler, while the kernel waits on the delivery.
func (v *Vat) Syscall(ctx context.Context, sc syscall.Syscall) error {
	v.mu.Lock()
	v.nextID++
	id := "sc:" + strconv.Itoa(v.nextID)
	v.mu.Unlock()
	request, err := rpc.NewRequest(id, "handleSyscall", sc)
	if err != nil {
		return err
	}
	if err := v.stream.Write(ctx, request); err != nil {
		return err
	}
	for {
		message, err := v.stream.Read(ctx)
		if err != nil {
			return err
		}
		if message.ID != id || !message.IsResponse() {
			continue
		}
		if message.Error != nil {
			v.mu.Lock()
			v.syscallErr = append(v.syscallErr, message.Error)
			v.mu.Unlock()
			return message.Error
		}
		return nil
	}
}

// Log emits a log notification.
func (v *Vat) Log(ctx context.Context, entry logging.Entry) error {
	notification, err := rpc.NewNotification("log", entry)
	if err != nil {
		return err
	}
	return v.stream.Write(ctx, notification)
}

func (v *Vat) serve(ctx context.Context) {
	defer close(v.done)
	for {
		message, err := v.stream.Read(ctx)
		if err != nil {
			return
		}
		if !message.IsRequest() {
			continue
		}
		result, err := v.handle(ctx, message)
		var response *rpc.Message
		if err != nil {
			response = rpc.NewErrorResponse(message.ID, err)
		} else if response, err = rpc.NewResult(message.ID, result); err != nil {
			response = rpc.NewErrorResponse(message.ID, err)
		}
		if err := v.stream.Write(ctx, response); err != nil {
			return
		}
	}
}

func (v *Vat) handle(ctx context.Context, message *rpc.Message) (interface{}, error) {
	switch message.Method {
	case "initVat":
		var params vat.InitParams
		if err := message.DecodeParams(&params); err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.inits = append(v.inits, params)
		v.mu.Unlock()
		if v.initErr != nil {
			return nil, v.initErr
		}
		return v.initCheckpoint, nil
	case "deliver":
		delivery := &vat.Delivery{}
		if err := message.DecodeParams(delivery); err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.deliveries = append(v.deliveries, delivery)
		v.mu.Unlock()
		if v.handler == nil {
			return vat.Checkpoint{}, nil
		}
		checkpoint, err := v.handler(ctx, v, delivery)
		if err != nil {
			return nil, err
		}
		if checkpoint == nil {
			checkpoint = &vat.Checkpoint{}
		}
		return checkpoint, nil
	case "ping":
		return "pong", nil
	}
	if command, ok := v.commands[message.Method]; ok {
		return command(message.Params)
	}
	return nil, types.NewMethodNotFoundError(message.Method)
}

// Resolve answers a message delivery by resolving its result promise.
func Resolve(ctx context.Context, v *Vat, delivery *vat.Delivery, value capdata.CapData) error {
	if delivery.Message == nil || delivery.Message.Result == nil {
		return fmt.Errorf("delivery has no result")
	}
	return v.Syscall(ctx, syscall.Resolve(capdata.Resolution{Ref: *delivery.Message.Result, Value: value}))
}

// Echo is a handler answering every message with "ok".
func Echo(ctx context.Context, v *Vat, delivery *vat.Delivery) (*vat.Checkpoint, error) {
	if delivery.Type != vat.DeliveryMessage || delivery.Message.Result == nil {
		return nil, nil
	}
	return nil, Resolve(ctx, v, delivery, capdata.MustEncode("ok"))
}
