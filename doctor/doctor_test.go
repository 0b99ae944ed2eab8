package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"govagent/config"
	"govagent/crypto"
)

func newTestKeystore(t *testing.T) (path, passphrase string) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	path = filepath.Join(t.TempDir(), "keystore.json")
	require.NoError(t, crypto.SaveToKeystore(path, key, "correct horse"))
	return path, "correct horse"
}

func TestRun_AllChecksPass(t *testing.T) {
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x64"}`))
	}))
	defer rpc.Close()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	keystorePath, passphrase := newTestKeystore(t)

	cfg := config.Config{
		RPCURL:           rpc.URL,
		KeystorePath:     keystorePath,
		KeystorePassword: passphrase,
		Gateways:         []config.GatewayConfig{{URL: gateway.URL, MaxAttempts: 1}},
		DataDir:          t.TempDir(),
	}

	report := Run(context.Background(), cfg)

	require.True(t, report.Passed)
	for _, c := range report.Checks {
		require.Truef(t, c.OK, "check %s failed: %s", c.Name, c.Err)
	}
}

func TestRun_FailsWhenRPCUnreachable(t *testing.T) {
	keystorePath, passphrase := newTestKeystore(t)
	cfg := config.Config{
		RPCURL:           "http://127.0.0.1:1",
		KeystorePath:     keystorePath,
		KeystorePassword: passphrase,
		DataDir:          t.TempDir(),
	}

	report := Run(context.Background(), cfg)

	require.False(t, report.Passed)
}

func TestRun_FailsWhenKeystorePassphraseMissing(t *testing.T) {
	keystorePath, _ := newTestKeystore(t)
	cfg := config.Config{
		RPCURL:           "ws://example.invalid",
		KeystorePath:     keystorePath,
		KeystorePassword: "",
		DataDir:          t.TempDir(),
	}

	report := Run(context.Background(), cfg)

	require.False(t, report.Passed)
	var sawSignerFailure bool
	for _, c := range report.Checks {
		if c.Name == "signer_loads" {
			sawSignerFailure = !c.OK
		}
	}
	require.True(t, sawSignerFailure)
}

func TestRun_FailsWhenKeystoreMissingFile(t *testing.T) {
	cfg := config.Config{
		RPCURL:           "ws://example.invalid",
		KeystorePath:     filepath.Join(t.TempDir(), "does-not-exist.json"),
		KeystorePassword: "whatever",
		DataDir:          t.TempDir(),
	}

	report := Run(context.Background(), cfg)

	require.False(t, report.Passed)
}

func TestRun_FailsWhenDataDirUnconfigured(t *testing.T) {
	keystorePath, passphrase := newTestKeystore(t)
	cfg := config.Config{
		RPCURL:           "ws://example.invalid",
		KeystorePath:     keystorePath,
		KeystorePassword: passphrase,
		DataDir:          "",
	}

	report := Run(context.Background(), cfg)

	require.False(t, report.Passed)
}

func TestCheckGateway_FailsOnServerError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	check := checkGateway(context.Background(), gateway.URL)
	require.False(t, check.OK)
}
