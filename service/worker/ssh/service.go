// Package ssh runs vat workers on a remote host, one ssh session per vat,
// speaking ndjson over the session's stdin and stdout.
package ssh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/ocap/internal/idgen"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/messaging"
	"github.com/viant/ocap/service/messaging/ndjson"
	"github.com/viant/ocap/service/rpc"
	"github.com/viant/ocap/service/worker/exec"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
	"golang.org/x/crypto/ssh"
)

type session struct {
	session *ssh.Session
	stream  messaging.Stream[rpc.Message]
	done    chan struct{}
}

// Service launches "<runner> [args...] <source>" on the remote host.
type Service struct {
	config Config
	runner string
	args   []string
	stream messaging.Config
	logger *zap.Logger

	mu       sync.Mutex
	client   *ssh.Client
	sessions map[ref.VatID]*session
}

// New creates a service; the connection is opened on first launch.
func New(config Config, runner string, args []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:   config,
		runner:   runner,
		args:     args,
		stream:   messaging.DefaultConfig(),
		logger:   logger,
		sessions: make(map[ref.VatID]*session),
	}
}

func (s *Service) connect() (*ssh.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	client, err := s.config.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %v: %w", s.config.Host, err)
	}
	s.client = client
	return client, nil
}

// Launch starts the worker of vatID in a new session.
func (s *Service) Launch(ctx context.Context, vatID ref.VatID, config *vat.Config) (messaging.Stream[rpc.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[vatID]; ok {
		return nil, fmt.Errorf("worker for vat %v is already running", vatID)
	}
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	command, err := s.command(vatID, config)
	if err != nil {
		return nil, err
	}
	remote, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.String("vatId", string(vatID)), zap.String("host", s.config.Host))
	stderr := &zapio.Writer{Log: logger, Level: zap.WarnLevel}
	remote.Stderr = stderr
	stdin, err := remote.StdinPipe()
	if err != nil {
		remote.Close()
		return nil, err
	}
	stdout, err := remote.StdoutPipe()
	if err != nil {
		remote.Close()
		return nil, err
	}
	if err := remote.Start(command); err != nil {
		remote.Close()
		return nil, fmt.Errorf("failed to start worker for vat %v: %w", vatID, err)
	}
	ret := &session{session: remote, done: make(chan struct{})}
	ret.stream = ndjson.New[rpc.Message](stdout, stdin, s.stream, stdin, remote)
	go func() {
		if err := remote.Wait(); err != nil {
			logger.Warn("worker exited", zap.Error(err))
		}
		_ = stderr.Close()
		close(ret.done)
	}()
	s.sessions[vatID] = ret
	logger.Info("worker started", zap.String("source", config.Source()))
	return ret.stream, nil
}

func (s *Service) command(vatID ref.VatID, config *vat.Config) (string, error) {
	parameters, err := json.Marshal(config.Parameters)
	if err != nil {
		return "", fmt.Errorf("failed to encode parameters of vat %v: %w", vatID, err)
	}
	env := []string{
		exec.EnvVatID + "=" + shellEscape(string(vatID)),
		exec.EnvSessionID + "=" + shellEscape(idgen.New()),
		exec.EnvParameters + "=" + shellEscape(string(parameters)),
	}
	args := append(append([]string{}, s.args...), config.Source())
	return strings.Join(env, " ") + " " + joinCommand(s.runner, args), nil
}

// Terminate ends the vat's session.
func (s *Service) Terminate(ctx context.Context, vatID ref.VatID) error {
	s.mu.Lock()
	remote, ok := s.sessions[vatID]
	delete(s.sessions, vatID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker for vat %v", vatID)
	}
	_ = remote.session.Signal(ssh.SIGTERM)
	_ = remote.stream.Close()
	select {
	case <-remote.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// TerminateAll ends every session and the connection.
func (s *Service) TerminateAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]ref.VatID, 0, len(s.sessions))
	for vatID := range s.sessions {
		ids = append(ids, vatID)
	}
	s.mu.Unlock()
	var firstErr error
	for _, vatID := range ids {
		if err := s.Terminate(ctx, vatID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.client = nil
	}
	return firstErr
}

func joinCommand(cmd string, args []string) string {
	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}
	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
