package tflite

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRuntimeVersion is the TensorFlow Lite version bootstrap downloads
// when no explicit version is configured.
const DefaultRuntimeVersion = "2.17.0"

var errSharedLibraryNotFound = errors.New("TensorFlow Lite C shared library not found")
var bootstrapCacheFallbackWarnOnce sync.Once

// BootstrapOption configures EnsureSharedLibrary.
type BootstrapOption func(*bootstrapConfig) error

type bootstrapConfig struct {
	libraryPath     string
	cacheDir        string
	version         string
	baseURL         string
	expectedSHA256  string
	disableDownload bool
	httpClient      *http.Client
	goos            string
	goarch          string
}

// WithBootstrapLibraryPath forces bootstrap to use an existing TensorFlow Lite C shared library path.
func WithBootstrapLibraryPath(path string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("bootstrap library path cannot be empty")
		}
		cfg.libraryPath = path
		return nil
	}
}

// WithBootstrapCacheDir sets the cache directory used by bootstrap downloads.
func WithBootstrapCacheDir(dir string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("bootstrap cache directory cannot be empty")
		}
		cfg.cacheDir = dir
		return nil
	}
}

// WithBootstrapVersion sets the TensorFlow Lite version to download (for example: 2.17.0).
func WithBootstrapVersion(version string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		version = strings.TrimSpace(version)
		if version == "" {
			return fmt.Errorf("bootstrap version cannot be empty")
		}
		cfg.version = version
		return nil
	}
}

// WithBootstrapBaseURL sets the base URL downloads are fetched from. There is
// no canonical upstream binary release for libtensorflowlite_c, so download
// mode requires an explicit base URL (or TFLITE_C_BASE_URL).
func WithBootstrapBaseURL(baseURL string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		baseURL = strings.TrimSpace(baseURL)
		if baseURL == "" {
			return fmt.Errorf("bootstrap base URL cannot be empty")
		}
		cfg.baseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithBootstrapExpectedSHA256 enforces an expected SHA256 checksum for the downloaded library.
func WithBootstrapExpectedSHA256(checksum string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		checksum = strings.TrimSpace(strings.ToLower(checksum))
		if len(checksum) != 64 {
			return fmt.Errorf("expected SHA256 checksum must be 64 hex characters")
		}
		if _, err := hex.DecodeString(checksum); err != nil {
			return fmt.Errorf("expected SHA256 checksum must be hex: %w", err)
		}
		cfg.expectedSHA256 = checksum
		return nil
	}
}

// WithBootstrapDisableDownload enables or disables network download in bootstrap mode.
func WithBootstrapDisableDownload(disable bool) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.disableDownload = disable
		return nil
	}
}

func withBootstrapHTTPClient(client *http.Client) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if client == nil {
			return fmt.Errorf("bootstrap HTTP client cannot be nil")
		}
		cfg.httpClient = client
		return nil
	}
}

// EnsureSharedLibrary ensures a TensorFlow Lite C shared library is available
// and returns a resolved absolute path to it.
//
// Resolution order: explicit path (option or TFLITE_C_LIB_PATH), well-known
// system locations, cache directory, then download when a base URL is
// configured and download is not disabled.
func EnsureSharedLibrary(opts ...BootstrapOption) (string, error) {
	cfg, err := resolveBootstrapConfig(opts...)
	if err != nil {
		return "", err
	}

	if cfg.libraryPath != "" {
		return validateLibraryFile(cfg.libraryPath)
	}

	libraryName, err := sharedLibraryName(cfg.goos)
	if err != nil {
		return "", err
	}

	for _, candidate := range systemLibraryCandidates(cfg.goos, libraryName) {
		if path, validateErr := validateLibraryFile(candidate); validateErr == nil {
			return path, nil
		}
	}

	cachedPath := filepath.Join(cfg.cacheDir, cfg.version, fmt.Sprintf("%s-%s", cfg.goos, cfg.goarch), libraryName)
	if path, validateErr := validateLibraryFile(cachedPath); validateErr == nil {
		return path, nil
	}

	if cfg.disableDownload {
		return "", fmt.Errorf("%w in system paths or cache, and download is disabled (set TFLITE_C_LIB_PATH)", errSharedLibraryNotFound)
	}
	if cfg.baseURL == "" {
		return "", fmt.Errorf("%w in system paths or cache; set TFLITE_C_LIB_PATH, or TFLITE_C_BASE_URL to enable download", errSharedLibraryNotFound)
	}

	lockPath := filepath.Join(cfg.cacheDir, ".locks", fmt.Sprintf("%s-%s-%s.lock", cfg.goos, cfg.goarch, cfg.version))
	var resolvedPath string
	if err := withProcessFileLock(lockPath, func() error {
		// Another process may have populated the cache while we waited.
		if path, validateErr := validateLibraryFile(cachedPath); validateErr == nil {
			resolvedPath = path
			return nil
		}
		if err := downloadLibrary(cfg, libraryName, cachedPath); err != nil {
			return err
		}
		path, validateErr := validateLibraryFile(cachedPath)
		if validateErr != nil {
			return fmt.Errorf("bootstrap completed but shared library could not be resolved: %w", validateErr)
		}
		resolvedPath = path
		return nil
	}); err != nil {
		return "", err
	}

	return resolvedPath, nil
}

// InitializeWithBootstrap resolves a shared library path via bootstrap, sets
// it on the runtime, and initializes the TensorFlow Lite runtime.
func InitializeWithBootstrap(opts ...BootstrapOption) error {
	path, err := EnsureSharedLibrary(opts...)
	if err != nil {
		return err
	}

	mu.Lock()
	alreadyInitialized := initialized
	currentPath := libPath
	mu.Unlock()

	if alreadyInitialized {
		if currentPath != path {
			return fmt.Errorf("cannot change library path after runtime is initialized")
		}
		return nil
	}

	if err := SetSharedLibraryPath(path); err != nil {
		return err
	}
	return Initialize()
}

func resolveBootstrapConfig(opts ...BootstrapOption) (bootstrapConfig, error) {
	disableDownload, err := parseBootstrapBoolEnv("TFLITE_C_DISABLE_DOWNLOAD")
	if err != nil {
		return bootstrapConfig{}, err
	}

	cfg := bootstrapConfig{
		libraryPath:     strings.TrimSpace(os.Getenv("TFLITE_C_LIB_PATH")),
		cacheDir:        strings.TrimSpace(os.Getenv("TFLITE_C_CACHE_DIR")),
		version:         strings.TrimSpace(os.Getenv("TFLITE_C_VERSION")),
		baseURL:         strings.TrimRight(strings.TrimSpace(os.Getenv("TFLITE_C_BASE_URL")), "/"),
		disableDownload: disableDownload,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
	}

	if cfg.version == "" {
		cfg.version = DefaultRuntimeVersion
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultBootstrapCacheDir()
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return bootstrapConfig{}, err
		}
	}

	version, err := normalizeRuntimeVersion(cfg.version)
	if err != nil {
		return bootstrapConfig{}, err
	}
	cfg.version = version
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)

	if cfg.httpClient == nil {
		return bootstrapConfig{}, fmt.Errorf("bootstrap HTTP client cannot be nil")
	}

	return cfg, nil
}

func sharedLibraryName(goos string) (string, error) {
	switch goos {
	case "darwin":
		return "libtensorflowlite_c.dylib", nil
	case "linux":
		return "libtensorflowlite_c.so", nil
	case "windows":
		return "tensorflowlite_c.dll", nil
	default:
		return "", fmt.Errorf("unsupported platform for TensorFlow Lite bootstrap: GOOS=%s", goos)
	}
}

func systemLibraryCandidates(goos, libraryName string) []string {
	switch goos {
	case "darwin":
		return []string{
			filepath.Join("/opt/homebrew/lib", libraryName),
			filepath.Join("/usr/local/lib", libraryName),
		}
	case "linux":
		return []string{
			filepath.Join("/usr/local/lib", libraryName),
			filepath.Join("/usr/lib", libraryName),
			filepath.Join("/usr/lib/x86_64-linux-gnu", libraryName),
			filepath.Join("/usr/lib/aarch64-linux-gnu", libraryName),
		}
	case "windows":
		return []string{libraryName}
	default:
		return nil
	}
}

func (cfg bootstrapConfig) downloadURL(libraryName string) string {
	return fmt.Sprintf("%s/v%s/%s-%s/%s", cfg.baseURL, cfg.version, cfg.goos, cfg.goarch, libraryName)
}

func downloadLibrary(cfg bootstrapConfig, libraryName, destPath string) (err error) {
	url := cfg.downloadURL(libraryName)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request for %q: %w", url, err)
	}

	resp, err := cfg.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download TensorFlow Lite library from %q: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		trimmed := strings.TrimSpace(string(snippet))
		if trimmed != "" {
			return fmt.Errorf("failed to download TensorFlow Lite library from %q: HTTP %d: %s", url, resp.StatusCode, trimmed)
		}
		return fmt.Errorf("failed to download TensorFlow Lite library from %q: HTTP %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %q: %w", filepath.Dir(destPath), err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "tflite-*.partial")
	if err != nil {
		return fmt.Errorf("failed to create temporary download file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		closeErr := tmpFile.Close()
		if err == nil && closeErr != nil && !success {
			err = closeErr
		}
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(tmpFile, hasher), resp.Body)
	if copyErr != nil {
		return fmt.Errorf("failed to write TensorFlow Lite library to %q: %w", tmpPath, copyErr)
	}
	if written == 0 {
		return fmt.Errorf("downloaded TensorFlow Lite library is empty")
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	if cfg.expectedSHA256 != "" && checksum != cfg.expectedSHA256 {
		return fmt.Errorf("download checksum mismatch: expected %s, got %s", cfg.expectedSHA256, checksum)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary download file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("failed to set library permissions on %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to install TensorFlow Lite library to %q: %w", destPath, err)
	}
	success = true
	return nil
}

func validateLibraryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("library path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat library file %q: %w", absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("library path points to a directory: %q", absPath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("library file is empty: %q", absPath)
	}

	return absPath, nil
}

func withProcessFileLock(lockPath string, fn func() error) (err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	if err := lockFile(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to acquire lock %q: %w", lockPath, err)
	}

	defer func() {
		unlockErr := unlockFile(file)
		closeErr := file.Close()
		err = errors.Join(err, unlockErr, closeErr)
	}()

	if fn == nil {
		return nil
	}
	return fn()
}

func defaultBootstrapCacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "pure-tflite", "tensorflowlite_c")
	}

	fallback := filepath.Join(os.TempDir(), "pure-tflite", "tensorflowlite_c")
	bootstrapCacheFallbackWarnOnce.Do(func() {
		if err != nil {
			log.Printf("WARNING: failed to resolve user cache directory (%v); using temporary TensorFlow Lite cache at %q. Set TFLITE_C_CACHE_DIR for a persistent cache.", err, fallback)
			return
		}
		log.Printf("WARNING: user cache directory is empty; using temporary TensorFlow Lite cache at %q. Set TFLITE_C_CACHE_DIR for a persistent cache.", fallback)
	})
	return fallback
}

func normalizeRuntimeVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	if version == "" {
		return "", fmt.Errorf("TensorFlow Lite version is empty")
	}

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("TensorFlow Lite version must have format x.y.z, got %q", version)
	}
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("TensorFlow Lite version must have format x.y.z, got %q", version)
		}
		if _, err := strconv.Atoi(part); err != nil {
			return "", fmt.Errorf("TensorFlow Lite version must have numeric segments, got %q", version)
		}
	}

	return version, nil
}

func parseBootstrapBoolEnv(name string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err == nil {
		return parsed, nil
	}

	switch strings.ToLower(value) {
	case "1", "yes", "y", "on":
		return true, nil
	case "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value for %s: %q (expected true/false, 1/0, yes/no, on/off)", name, value)
	}
}
