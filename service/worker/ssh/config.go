package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config locates the remote host and the runner started there per vat.
type Config struct {
	Host                        string        `json:"host" yaml:"host" toml:"host"`
	Port                        string        `json:"port,omitempty" yaml:"port,omitempty" toml:"port"`
	User                        string        `json:"user" yaml:"user" toml:"user"`
	KeyPath                     string        `json:"keyPath" yaml:"keyPath" toml:"key_path"`
	Passphrase                  string        `json:"-" yaml:"-" toml:"-"`
	KnownHostsPath              string        `json:"knownHostsPath,omitempty" yaml:"knownHostsPath,omitempty" toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool          `json:"insecureSkipHostKeyChecking,omitempty" yaml:"insecureSkipHostKeyChecking,omitempty" toml:"insecure_skip_host_key_checking"`
	Timeout                     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout"`
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("ssh host is required")
	}
	if c.User == "" {
		return fmt.Errorf("ssh user is required")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("ssh key path is required")
	}
	return nil
}

func (c *Config) address() (string, error) {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if c.Port != "" {
		return net.JoinHostPort(host, c.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	signer, err := c.signer()
	if err != nil {
		return nil, err
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !c.InsecureSkipHostKeyChecking {
		if hostKeyCallback, err = c.knownHostsCallback(); err != nil {
			return nil, err
		}
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Timeout,
	}, nil
}

func (c *Config) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, err
	}
	if c.Passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, []byte(c.Passphrase))
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (c *Config) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(c.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

func (c *Config) dial() (*ssh.Client, error) {
	address, err := c.address()
	if err != nil {
		return nil, err
	}
	config, err := c.clientConfig()
	if err != nil {
		return nil, err
	}
	if c.Timeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}
	conn, err := net.DialTimeout("tcp", address, c.Timeout)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}
