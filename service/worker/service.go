// Package worker launches the processes hosting vats.
package worker

import (
	"context"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/rpc"
)

// Service starts and stops vat workers. Launch returns the duplex stream the
// kernel speaks to the worker over.
type Service interface {
	Launch(ctx context.Context, vatID ref.VatID, config *vat.Config) (messaging.Stream[rpc.Message], error)
	Terminate(ctx context.Context, vatID ref.VatID) error
	TerminateAll(ctx context.Context) error
}
