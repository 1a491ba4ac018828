package ocap

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/ocap/logging"
	"github.com/viant/ocap/service/worker/ssh"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Worker drivers.
const (
	WorkerExec = "exec"
	WorkerSSH  = "ssh"
)

// Config is a serialisable representation of the kernel configuration. It can
// be populated from TOML, YAML or JSON.
type Config struct {
	Store        StoreConfig    `json:"store" yaml:"store" toml:"store"`
	Logging      logging.Config `json:"logging" yaml:"logging" toml:"logging"`
	Tracing      TracingConfig  `json:"tracing" yaml:"tracing" toml:"tracing"`
	Vat          VatConfig      `json:"vat" yaml:"vat" toml:"vat"`
	Worker       WorkerConfig   `json:"worker" yaml:"worker" toml:"worker"`
	ResetStorage bool           `json:"resetStorage,omitempty" yaml:"resetStorage,omitempty" toml:"reset_storage"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty" toml:"path"`
}

type TracingConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty" toml:"output"`
}

// VatConfig holds settings shared by every vat bridge. RPCTimeout is a Go
// duration string; empty waits for workers indefinitely.
type VatConfig struct {
	RPCTimeout string `json:"rpcTimeout,omitempty" yaml:"rpcTimeout,omitempty" toml:"rpc_timeout"`
}

// Timeout returns the parsed RPC timeout.
func (c VatConfig) Timeout() time.Duration {
	if c.RPCTimeout == "" {
		return 0
	}
	ret, _ := time.ParseDuration(c.RPCTimeout)
	return ret
}

// WorkerConfig selects how vat workers are started.
type WorkerConfig struct {
	Driver string      `json:"driver,omitempty" yaml:"driver,omitempty" toml:"driver"`
	Runner string      `json:"runner,omitempty" yaml:"runner,omitempty" toml:"runner"`
	Args   []string    `json:"args,omitempty" yaml:"args,omitempty" toml:"args"`
	SSH    *ssh.Config `json:"ssh,omitempty" yaml:"ssh,omitempty" toml:"ssh"`
}

// DefaultConfig returns an in-memory kernel logging at info level.
func DefaultConfig() *Config {
	return &Config{
		Store:   StoreConfig{Driver: DriverMemory},
		Logging: logging.DefaultConfig(),
		Worker:  WorkerConfig{Driver: WorkerExec},
	}
}

// Validate returns an error describing the first invalid setting, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Vat.RPCTimeout != "" {
		if timeout, err := time.ParseDuration(c.Vat.RPCTimeout); err != nil || timeout < 0 {
			return fmt.Errorf("invalid vat.rpcTimeout %q", c.Vat.RPCTimeout)
		}
	}
	switch c.Worker.Driver {
	case "", WorkerExec:
	case WorkerSSH:
		if c.Worker.SSH == nil {
			return fmt.Errorf("worker.ssh is required for the ssh driver")
		}
		if err := c.Worker.SSH.Validate(); err != nil {
			return fmt.Errorf("worker.ssh: %w", err)
		}
	default:
		return fmt.Errorf("unsupported worker driver %q", c.Worker.Driver)
	}
	return nil
}

// LoadConfig reads a kernel config from URL through afs, decoding it by
// extension (.toml, .yaml/.yml or .json) over the defaults.
func LoadConfig(ctx context.Context, URL string, options ...storage.Option) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", URL, err)
	}
	ret, err := DecodeConfig(path.Ext(URL), data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	return ret, nil
}

// DecodeConfig decodes data over DefaultConfig and validates the result.
func DecodeConfig(ext string, data []byte) (*Config, error) {
	ret := DefaultConfig()
	var err error
	switch strings.ToLower(ext) {
	case ".toml":
		err = toml.Unmarshal(data, ret)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, ret)
	case ".json", "":
		err = json.Unmarshal(data, ret)
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
