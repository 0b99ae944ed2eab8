// Package doctor implements the `doctor` CLI command from spec section 6:
// a small set of composable startup checks (RPC reachability, signer load,
// gateway reachability, data-dir writability) run before the agent is
// trusted to drive a tick, mirroring the corpus's habit of checking
// dependencies before serving traffic (e.g. oracle-attesterd dialing its
// consensus client and EVM client before starting its HTTP server).
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"govagent/config"
	"govagent/crypto"
)

// Check is one named doctor probe and its outcome.
type Check struct {
	Name string
	OK   bool
	Err  string
}

// Report is the full set of doctor checks and whether every one passed.
type Report struct {
	Checks []Check
	Passed bool
}

// Run executes every check in spec section 6's doctor list: RPC
// reachability, signer load, gateway reachability, data-dir writability.
// It never returns an error itself — failures are recorded as a failing
// Check so the caller can print the full report before exiting non-zero.
func Run(ctx context.Context, cfg config.Config) Report {
	var report Report
	report.Checks = append(report.Checks, checkRPC(ctx, cfg.RPCURL))
	report.Checks = append(report.Checks, checkSigner(cfg.KeystorePath, cfg.KeystorePassword))
	for _, gw := range cfg.Gateways {
		report.Checks = append(report.Checks, checkGateway(ctx, gw.URL))
	}
	report.Checks = append(report.Checks, checkDataDir(cfg.DataDir))
	report.Checks = append(report.Checks, checkSingleInstance(cfg.DataDir))

	report.Passed = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Passed = false
		}
	}
	return report
}

func checkRPC(ctx context.Context, rpcURL string) Check {
	name := "rpc_reachable"
	if strings.TrimSpace(rpcURL) == "" {
		return Check{Name: name, OK: false, Err: "rpc_url not configured"}
	}
	if strings.HasPrefix(rpcURL, "ws") {
		// A websocket dial is exercised by the real chain adapter at
		// startup; doctor only verifies an http(s) RPC URL responds to a
		// plain JSON-RPC request without pulling in a full client here.
		return Check{Name: name, OK: true}
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rpcURL, body)
	if err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return Check{Name: name, OK: false, Err: fmt.Sprintf("rpc endpoint returned status %d", resp.StatusCode)}
	}
	return Check{Name: name, OK: true}
}

func checkSigner(keystorePath, passphrase string) Check {
	name := "signer_loads"
	if strings.TrimSpace(keystorePath) == "" {
		return Check{Name: name, OK: false, Err: "keystore_path not configured"}
	}
	if _, err := os.Stat(keystorePath); err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	if passphrase == "" {
		return Check{Name: name, OK: false, Err: "keystore passphrase not resolved"}
	}
	if _, err := crypto.LoadFromKeystore(keystorePath, passphrase); err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	return Check{Name: name, OK: true}
}

func checkGateway(ctx context.Context, url string) Check {
	name := fmt.Sprintf("gateway_reachable[%s]", url)
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, strings.TrimRight(url, "/")+"/ipfs/", nil)
	if err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return Check{Name: name, OK: false, Err: fmt.Sprintf("gateway returned status %d", resp.StatusCode)}
	}
	return Check{Name: name, OK: true}
}

func checkDataDir(dataDir string) Check {
	name := "data_dir_writable"
	if strings.TrimSpace(dataDir) == "" {
		return Check{Name: name, OK: false, Err: "data_dir not configured"}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	probe := filepath.Join(dataDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	_ = os.Remove(probe)
	return Check{Name: name, OK: true}
}

// checkSingleInstance reports OK when the index file is absent or can be
// stat'ed, and fails only when the stat itself errors. It does not detect
// whether another live process holds the index file's lock.
func checkSingleInstance(dataDir string) Check {
	name := "single_instance"
	lockPath := filepath.Join(dataDir, "index.bbolt")
	info, err := os.Stat(lockPath)
	if os.IsNotExist(err) {
		return Check{Name: name, OK: true}
	}
	if err != nil {
		return Check{Name: name, OK: false, Err: err.Error()}
	}
	_ = info
	// bbolt itself takes an exclusive file lock on open; storage.Open
	// failing with a lock-held error is the authoritative signal. This
	// check only confirms the index file is reachable; doctor does not open
	// storage.Store, so no exclusivity test is made here.
	return Check{Name: name, OK: true}
}
