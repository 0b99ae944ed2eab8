package bundle

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"govagent/agent/errkind"
	"govagent/chain"
	"govagent/observability/metrics"
	"govagent/review"
)

// Gateway describes one configured IPFS gateway endpoint.
type Gateway struct {
	URL         string
	MaxAttempts int
	Timeout     time.Duration
}

// Fetcher implements the Bundle Fetcher from spec section 4.4: it tries
// each configured gateway in priority order, enforces a per-gateway
// attempt budget and a total fetch budget, validates the result, and
// caches materialized bundles on disk keyed by CID.
type Fetcher struct {
	gateways    []Gateway
	cacheDir    string
	maxBytes    int64
	maxFiles    int
	client      *http.Client
	retry       chain.RetryPolicy
	limiter     *rate.Limiter
	metrics     *metrics.Agent
	totalBudget time.Duration
}

// NewFetcher constructs a Fetcher. totalBudget bounds the overall wall-clock
// time spent across every gateway attempt for one CID.
func NewFetcher(gateways []Gateway, cacheDir string, maxBytes int64, maxFiles int, totalBudget time.Duration, agentMetrics *metrics.Agent) *Fetcher {
	return &Fetcher{
		gateways:    gateways,
		cacheDir:    cacheDir,
		maxBytes:    maxBytes,
		maxFiles:    maxFiles,
		client:      &http.Client{},
		retry:       chain.DefaultRetryPolicy(),
		limiter:     rate.NewLimiter(rate.Limit(4), 4),
		metrics:     agentMetrics,
		totalBudget: totalBudget,
	}
}

func (f *Fetcher) cachePath(cidStr string) string {
	return filepath.Join(f.cacheDir, sanitizeCIDForPath(cidStr))
}

func sanitizeCIDForPath(cidStr string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(cidStr)
}

// Fetch resolves cidStr (already the stringified CID — caller resolves
// RootCID via ResolveCID) through the configured gateways, validates the
// result, and returns either a usable Bundle or a non-empty set of blocking
// findings explaining why it could not be used.
func (f *Fetcher) Fetch(ctx context.Context, cidStr string) (*Bundle, []review.Finding, error) {
	root := f.cachePath(cidStr)

	if manifest, finding := loadManifest(root); finding == nil {
		files, err := listFiles(root)
		if err == nil && len(validateBundle(root, f.maxBytes, f.maxFiles)) == 0 {
			return &Bundle{RootCID: cidStr, Path: root, Manifest: manifest, Files: files}, nil, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.totalBudgetOrDefault())
	defer cancel()

	// correlationID ties every gateway attempt for this one CID together: it
	// is sent as the X-Correlation-Id header on each attempt and included in
	// the exhaustion finding, independent of retry count or gateway.
	correlationID := uuid.NewString()

	var lastErr error
	for _, gw := range f.gateways {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, nil, errkind.New(errkind.FetchError, err)
		}
		maxAttempts := gw.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		policy := chain.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
		err := policy.Do(ctx, func(int) error {
			return f.fetchFromGateway(ctx, gw, cidStr, root, correlationID)
		})
		if f.metrics != nil && err != nil {
			f.metrics.FetchFailure(gw.URL)
		}
		if err == nil {
			break
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, []review.Finding{{
			Severity: review.SeverityBlocking,
			Code:     "bundle_fetch_failed",
			Message:  fmt.Sprintf("exhausted all gateways (correlation_id=%s): %v", correlationID, lastErr),
		}}, nil
	}

	manifest, finding := loadManifest(root)
	if finding != nil {
		return nil, []review.Finding{*finding}, nil
	}
	if findings := validateBundle(root, f.maxBytes, f.maxFiles); len(findings) > 0 {
		return nil, findings, nil
	}
	files, err := listFiles(root)
	if err != nil {
		return nil, nil, errkind.New(errkind.FetchError, err)
	}
	return &Bundle{RootCID: cidStr, Path: root, Manifest: manifest, Files: files}, nil, nil
}

func (f *Fetcher) totalBudgetOrDefault() time.Duration {
	if f.totalBudget > 0 {
		return f.totalBudget
	}
	return 2 * time.Minute
}

func (f *Fetcher) fetchFromGateway(ctx context.Context, gw Gateway, cidStr, destRoot, correlationID string) error {
	timeout := gw.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(gw.URL, "/") + "/ipfs/" + cidStr + "?format=tar"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("bundle: build request: %w", err)
	}
	req.Header.Set("X-Correlation-Id", correlationID)
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("bundle: fetch %s: %w", gw.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bundle: gateway %s returned status %d", gw.URL, resp.StatusCode)
	}
	return extractTar(resp.Body, destRoot, f.maxBytes, f.maxFiles)
}

// extractTar materializes a tar stream under destRoot, rejecting anything
// that would escape the root, any symlink, and any entry past the
// configured byte/file-count limits. destRoot is recreated fresh so a
// partial prior attempt never leaves stale files behind.
func extractTar(r io.Reader, destRoot string, maxBytes int64, maxFiles int) error {
	if err := os.RemoveAll(destRoot); err != nil {
		return fmt.Errorf("bundle: clear cache dir: %w", err)
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return fmt.Errorf("bundle: create cache dir: %w", err)
	}

	tr := tar.NewReader(r)
	var totalBytes int64
	var fileCount int
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("bundle: read tar: %w", err)
		}
		if header.Typeflag == tar.TypeSymlink || header.Typeflag == tar.TypeLink {
			return fmt.Errorf("bundle: symlink not permitted: %s", header.Name)
		}
		cleanName, err := safeJoin(destRoot, header.Name)
		if err != nil {
			return err
		}
		if header.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(cleanName, 0o755); err != nil {
				return fmt.Errorf("bundle: mkdir %s: %w", header.Name, err)
			}
			continue
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		fileCount++
		if maxFiles > 0 && fileCount > maxFiles {
			return fmt.Errorf("bundle: file count exceeds limit %d", maxFiles)
		}
		totalBytes += header.Size
		if maxBytes > 0 && totalBytes > maxBytes {
			return fmt.Errorf("bundle: total size exceeds limit %d bytes", maxBytes)
		}
		if err := os.MkdirAll(filepath.Dir(cleanName), 0o755); err != nil {
			return fmt.Errorf("bundle: mkdir parent for %s: %w", header.Name, err)
		}
		out, err := os.OpenFile(cleanName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("bundle: create %s: %w", header.Name, err)
		}
		if _, err := io.CopyN(out, tr, header.Size); err != nil && err != io.EOF {
			out.Close()
			return fmt.Errorf("bundle: write %s: %w", header.Name, err)
		}
		out.Close()
	}
	return nil
}

// safeJoin joins root with name, rejecting any result that normalizes
// outside of root — the path-escape invariant from spec section 8.
func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("bundle: absolute path not permitted: %s", name)
	}
	joined := filepath.Join(root, name)
	rootWithSep := strings.TrimRight(root, string(filepath.Separator)) + string(filepath.Separator)
	if joined != strings.TrimRight(root, string(filepath.Separator)) && !strings.HasPrefix(joined, rootWithSep) {
		return "", fmt.Errorf("bundle: path escapes bundle root: %s", name)
	}
	return joined, nil
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("bundle: symlink present in cached bundle: %s", path)
		}
		if !info.IsDir() {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}
