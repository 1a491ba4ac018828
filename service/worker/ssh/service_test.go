package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/vat"
	"golang.org/x/crypto/ssh"
)

func TestConfig_Address(t *testing.T) {
	testCases := []struct {
		name      string
		config    Config
		expect    string
		expectErr bool
	}{
		{name: "default port", config: Config{Host: "worker.local"}, expect: "worker.local:22"},
		{name: "explicit port", config: Config{Host: "worker.local", Port: "2222"}, expect: "worker.local:2222"},
		{name: "host with port", config: Config{Host: "10.0.0.1:2200"}, expect: "10.0.0.1:2200"},
		{name: "missing host", config: Config{}, expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := tc.config.address()
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, actual)
		})
	}
}

func TestConfig_ClientConfig(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	config := Config{Host: "worker.local", User: "ocap", KeyPath: keyPath, InsecureSkipHostKeyChecking: true}
	clientConfig, err := config.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "ocap", clientConfig.User)
	assert.Len(t, clientConfig.Auth, 1)

	config.User = ""
	_, err = config.clientConfig()
	assert.Error(t, err)
}

func TestService_Command(t *testing.T) {
	service := New(Config{Host: "worker.local"}, "/opt/ocap/run vat", []string{"--quiet"}, nil)
	command, err := service.command("v3", &vat.Config{BundleSpec: "bundles/it's.json", Parameters: map[string]interface{}{"name": "alice"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(command, "OCAP_VAT_ID='v3' OCAP_SESSION_ID='"))
	assert.Contains(t, command, `OCAP_VAT_PARAMETERS='{"name":"alice"}'`)
	assert.True(t, strings.HasSuffix(command, `'/opt/ocap/run vat' '--quiet' 'bundles/it'"'"'s.json'`))
}

func TestService_TerminateUnknown(t *testing.T) {
	service := New(Config{Host: "worker.local"}, "run", nil, nil)
	assert.Error(t, service.Terminate(context.Background(), "v0"))
	assert.NoError(t, service.TerminateAll(context.Background()))
}
