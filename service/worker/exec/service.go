// Package exec runs each vat in a local child process speaking ndjson over
// its stdin and stdout.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sync"
	"time"

	"github.com/viant/ocap/internal/idgen"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/messaging/ndjson"
	"github.com/viant/ocap/service/rpc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Environment variables passed to every worker.
const (
	EnvVatID      = "OCAP_VAT_ID"
	EnvSessionID  = "OCAP_SESSION_ID"
	EnvParameters = "OCAP_VAT_PARAMETERS"
)

type process struct {
	cmd    *osexec.Cmd
	stream messaging.Stream[rpc.Message]
	done   chan struct{}
}

// Service launches "<runner> [args...] <source>" per vat.
type Service struct {
	runner      string
	args        []string
	stream      messaging.Config
	gracePeriod time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	processes map[ref.VatID]*process
}

// New creates a service running runner.
func New(runner string, options ...Option) *Service {
	ret := &Service{
		runner:      runner,
		stream:      messaging.DefaultConfig(),
		gracePeriod: 5 * time.Second,
		logger:      zap.NewNop(),
		processes:   make(map[ref.VatID]*process),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Launch starts the worker process of vatID.
func (s *Service) Launch(ctx context.Context, vatID ref.VatID, config *vat.Config) (messaging.Stream[rpc.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processes[vatID]; ok {
		return nil, fmt.Errorf("worker for vat %v is already running", vatID)
	}
	parameters, err := json.Marshal(config.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters of vat %v: %w", vatID, err)
	}
	args := append(append([]string{}, s.args...), config.Source())
	cmd := osexec.Command(s.runner, args...)
	cmd.Env = append(os.Environ(),
		EnvVatID+"="+string(vatID),
		EnvSessionID+"="+idgen.New(),
		EnvParameters+"="+string(parameters),
	)
	logger := s.logger.With(zap.String("vatId", string(vatID)))
	stderr := &zapio.Writer{Log: logger, Level: zap.WarnLevel}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutReader, stdoutWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker for vat %v: %w", vatID, err)
	}
	ret := &process{cmd: cmd, done: make(chan struct{})}
	ret.stream = ndjson.New[rpc.Message](stdoutReader, stdin, s.stream, stdin, stdoutReader)
	go func() {
		err := cmd.Wait()
		_ = stdoutWriter.CloseWithError(io.EOF)
		_ = stderr.Close()
		if err != nil {
			logger.Warn("worker exited", zap.Error(err))
		} else {
			logger.Debug("worker exited")
		}
		close(ret.done)
	}()
	s.processes[vatID] = ret
	logger.Info("worker started", zap.Int("pid", cmd.Process.Pid), zap.String("source", config.Source()))
	return ret.stream, nil
}

// Terminate closes the worker's stdin and kills it if it outlives the grace period.
func (s *Service) Terminate(ctx context.Context, vatID ref.VatID) error {
	s.mu.Lock()
	proc, ok := s.processes[vatID]
	delete(s.processes, vatID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker for vat %v", vatID)
	}
	_ = proc.stream.Close()
	timer := time.NewTimer(s.gracePeriod)
	defer timer.Stop()
	select {
	case <-proc.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := proc.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill worker of vat %v: %w", vatID, err)
	}
	<-proc.done
	return nil
}

// TerminateAll stops every worker.
func (s *Service) TerminateAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]ref.VatID, 0, len(s.processes))
	for vatID := range s.processes {
		ids = append(ids, vatID)
	}
	s.mu.Unlock()
	var firstErr error
	for _, vatID := range ids {
		if err := s.Terminate(ctx, vatID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
