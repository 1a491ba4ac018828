package ocap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/rpc"
	"github.com/viant/ocap/tracing"
	"go.uber.org/zap"
)

// Control-plane methods.
const (
	CommandLaunchVat           = "launchVat"
	CommandRestartVat          = "restartVat"
	CommandTerminateVat        = "terminateVat"
	CommandTerminateAllVats    = "terminateAllVats"
	CommandGetStatus           = "getStatus"
	CommandSendVatCommand      = "sendVatCommand"
	CommandPingVat             = "pingVat"
	CommandQueueMessage        = "queueMessage"
	CommandClearState          = "clearState"
	CommandExecuteDBQuery      = "executeDBQuery"
	CommandCollectGarbage      = "collectGarbage"
	CommandUpdateClusterConfig = "updateClusterConfig"
	CommandReload              = "reload"
	CommandLaunchSubcluster    = "launchSubcluster"
	CommandPinVatRoot          = "pinVatRoot"
	CommandUnpinVatRoot        = "unpinVatRoot"
)

type command func(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error)

var commands = map[string]command{
	CommandLaunchVat:           launchVatCommand,
	CommandRestartVat:          restartVatCommand,
	CommandTerminateVat:        terminateVatCommand,
	CommandTerminateAllVats:    terminateAllVatsCommand,
	CommandGetStatus:           getStatusCommand,
	CommandSendVatCommand:      sendVatCommand,
	CommandPingVat:             pingVatCommand,
	CommandQueueMessage:        queueMessageCommand,
	CommandClearState:          clearStateCommand,
	CommandExecuteDBQuery:      executeDBQueryCommand,
	CommandCollectGarbage:      collectGarbageCommand,
	CommandUpdateClusterConfig: updateClusterConfigCommand,
	CommandReload:              reloadCommand,
	CommandLaunchSubcluster:    launchSubclusterCommand,
	CommandPinVatRoot:          pinVatRootCommand,
	CommandUnpinVatRoot:        unpinVatRootCommand,
}

type vatIDParams struct {
	ID ref.VatID `json:"id"`
}

func (p *vatIDParams) validate(method string) error {
	if p.ID == "" || !p.ID.IsVat() {
		return types.NewInvalidParamsError(method, fmt.Errorf("invalid vat id %q", p.ID))
	}
	return nil
}

type vatCommandPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type sendVatCommandParams struct {
	ID      ref.VatID         `json:"id"`
	Payload vatCommandPayload `json:"payload"`
}

type clusterConfigParams struct {
	Config *vat.ClusterConfig `json:"config"`
}

type queryParams struct {
	SQL string `json:"sql"`
}

// HandleCommand runs one control-plane request and returns its response, or
// nil for a notification. Failures, including invariant violations raised by
// the request, become error responses.
func (k *Kernel) HandleCommand(ctx context.Context, request *rpc.Message) (response *rpc.Message) {
	ctx, span := tracing.StartSpan(ctx, "command."+request.Method, tracing.KindServer)
	var err error
	var result interface{}
	defer func() {
		tracing.EndSpan(span, err)
		if request.IsNotification() {
			if err != nil {
				k.logger.Warn("command notification failed", zap.String("method", request.Method), zap.Error(err))
			}
			response = nil
			return
		}
		if err != nil {
			k.logger.Debug("command failed", zap.String("method", request.Method), zap.String("id", request.ID), zap.Error(err))
			response = rpc.NewErrorResponse(request.ID, err)
			return
		}
		if response, err = rpc.NewResult(request.ID, result); err != nil {
			response = rpc.NewErrorResponse(request.ID, err)
		}
	}()
	result, err = k.dispatch(ctx, request)
	return nil
}

func (k *Kernel) dispatch(ctx context.Context, request *rpc.Message) (result interface{}, err error) {
	defer types.Recover(&err)
	if err = request.Validate(); err != nil {
		return nil, err
	}
	handler, ok := commands[request.Method]
	if !ok {
		return nil, types.NewMethodNotFoundError(request.Method)
	}
	return handler(ctx, k, request)
}

// Serve answers control-plane requests read from stream until it is closed
// or ctx is done. Requests run concurrently; the kernel serialises them.
func (k *Kernel) Serve(ctx context.Context, stream messaging.Stream[rpc.Message]) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		request, err := stream.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return &types.StreamReadError{VatID: "kernel", Err: err}
		}
		if request.IsResponse() {
			k.logger.Warn("unexpected response on command stream", zap.String("id", request.ID))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			response := k.HandleCommand(ctx, request)
			if response == nil {
				return
			}
			if err := stream.Write(ctx, response); err != nil {
				k.logger.Warn("failed to write command response", zap.String("id", request.ID), zap.Error(err))
			}
		}()
	}
}

func launchVatCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	config := &vat.Config{}
	if err := request.DecodeParams(config); err != nil {
		return nil, err
	}
	return k.LaunchVat(ctx, config)
}

func restartVatCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &vatIDParams{}
	if err := decodeVatID(request, params); err != nil {
		return nil, err
	}
	handle, err := k.RestartVat(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return VatStatus{ID: handle.VatID(), Config: handle.Config()}, nil
}

func terminateVatCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &vatIDParams{}
	if err := decodeVatID(request, params); err != nil {
		return nil, err
	}
	return nil, k.TerminateVat(ctx, params.ID)
}

func terminateAllVatsCommand(ctx context.Context, k *Kernel, _ *rpc.Message) (interface{}, error) {
	return nil, k.TerminateAllVats(ctx)
}

func getStatusCommand(_ context.Context, k *Kernel, _ *rpc.Message) (interface{}, error) {
	return k.GetStatus(), nil
}

func sendVatCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &sendVatCommandParams{}
	if err := request.DecodeParams(params); err != nil {
		return nil, err
	}
	if err := (&vatIDParams{ID: params.ID}).validate(request.Method); err != nil {
		return nil, err
	}
	if params.Payload.Method == "" {
		return nil, types.NewInvalidParamsError(request.Method, fmt.Errorf("payload method is required"))
	}
	return k.SendVatCommand(ctx, params.ID, params.Payload.Method, params.Payload.Params)
}

func pingVatCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &vatIDParams{}
	if err := decodeVatID(request, params); err != nil {
		return nil, err
	}
	if err := k.PingVat(ctx, params.ID); err != nil {
		return nil, err
	}
	return "pong", nil
}

func queueMessageCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	var params []json.RawMessage
	if err := request.DecodeParams(&params); err != nil {
		return nil, err
	}
	if len(params) != 3 {
		return nil, types.NewInvalidParamsError(request.Method, fmt.Errorf("expected [target, method, args]"))
	}
	var target ref.KRef
	var method string
	var args []interface{}
	for i, dest := range []interface{}{&target, &method, &args} {
		if err := json.Unmarshal(params[i], dest); err != nil {
			return nil, types.NewInvalidParamsError(request.Method, err)
		}
	}
	return k.QueueMessage(ctx, target, method, args)
}

func clearStateCommand(ctx context.Context, k *Kernel, _ *rpc.Message) (interface{}, error) {
	return nil, k.ClearState(ctx)
}

func executeDBQueryCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &queryParams{}
	if err := request.DecodeParams(params); err != nil {
		return nil, err
	}
	if params.SQL == "" {
		return nil, types.NewInvalidParamsError(request.Method, fmt.Errorf("sql is required"))
	}
	return k.ExecuteDBQuery(ctx, params.SQL)
}

func collectGarbageCommand(_ context.Context, k *Kernel, _ *rpc.Message) (interface{}, error) {
	return nil, k.CollectGarbage()
}

func updateClusterConfigCommand(_ context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &clusterConfigParams{}
	if err := request.DecodeParams(params); err != nil {
		return nil, err
	}
	return nil, k.UpdateClusterConfig(params.Config)
}

func reloadCommand(ctx context.Context, k *Kernel, _ *rpc.Message) (interface{}, error) {
	return reloadResult(k.Reload(ctx))
}

func launchSubclusterCommand(ctx context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &clusterConfigParams{}
	if err := request.DecodeParams(params); err != nil {
		return nil, err
	}
	return reloadResult(k.LaunchSubcluster(ctx, params.Config))
}

func reloadResult(result *capdata.CapData, err error) (interface{}, error) {
	if err != nil || result == nil {
		return nil, err
	}
	return result, nil
}

func pinVatRootCommand(_ context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &vatIDParams{}
	if err := decodeVatID(request, params); err != nil {
		return nil, err
	}
	return k.PinVatRoot(params.ID)
}

func unpinVatRootCommand(_ context.Context, k *Kernel, request *rpc.Message) (interface{}, error) {
	params := &vatIDParams{}
	if err := decodeVatID(request, params); err != nil {
		return nil, err
	}
	return k.UnpinVatRoot(params.ID)
}

func decodeVatID(request *rpc.Message, params *vatIDParams) error {
	if err := request.DecodeParams(params); err != nil {
		return err
	}
	return params.validate(request.Method)
}
