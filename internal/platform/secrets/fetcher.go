// Package secrets resolves secret:// references via Google Secret Manager
// with an in-process cache and a local fallback file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	referenceScheme     = "secret://"
	fallbackAliasScheme = "sm://"
	defaultFallbackPath = ".secrets.local"
	latestVersion       = "latest"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Secret Manager, caching
// resolved values per reference and version. When the remote call fails with
// an availability or permission error it consults a local KEY=VALUE file so
// development environments keep working without cloud credentials.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	project    string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]map[string]string
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithDefaultProject configures the project ID used when references omit one.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.project = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal;
// the fetcher then serves exclusively from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:       cfg.logger,
		project:      cfg.project,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]map[string]string),
	}

	switch {
	case cfg.client != nil:
		f.client = cfg.client
	default:
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	return f, nil
}

// Close releases the Secret Manager client if the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for the supplied reference, consulting the
// cache and the fallback file as needed.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(ref); ok {
		return value, nil
	}

	project := ref.project
	if project == "" {
		project = f.project
	}

	if project != "" && f.client != nil {
		value, accessErr := f.access(ctx, project, ref)
		if accessErr == nil {
			f.store(ref, value)
			return value, nil
		}
		if !recoverable(accessErr) {
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, accessErr)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", ref.canonical), zap.Error(accessErr))
	}

	value, ok := f.fromFallback(ref)
	if !ok {
		return "", fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
	}
	f.store(ref, value)
	return value, nil
}

// Invalidate drops every cached version of the referenced secret.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, ref.canonical)
	f.mu.Unlock()
}

func (f *Fetcher) cached(ref reference) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[ref.canonical][ref.version]
	return value, ok
}

func (f *Fetcher) store(ref reference, value string) {
	f.mu.Lock()
	versions := f.cache[ref.canonical]
	if versions == nil {
		versions = make(map[string]string)
		f.cache[ref.canonical] = versions
	}
	versions[ref.version] = value
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) fromFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback load error", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.canonical][ref.version]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.canonical][latestVersion]
	return value, ok
}

// loadFallback reads the KEY=VALUE fallback file once. Keys may use either
// the secret:// or the legacy sm:// scheme; lines starting with # are
// comments.
func (f *Fetcher) loadFallback() {
	f.fallback = map[string]map[string]string{}

	path := strings.TrimSpace(f.fallbackPath)
	if path == "" {
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: unable to read fallback file %s: %w", path, err)
		}
		return
	}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if alias, ok := strings.CutPrefix(key, fallbackAliasScheme); ok {
			key = referenceScheme + alias
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		versions := f.fallback[ref.canonical]
		if versions == nil {
			versions = make(map[string]string)
			f.fallback[ref.canonical] = versions
		}
		versions[ref.version] = strings.TrimSpace(value)
	}
}

// reference is a parsed secret://<name>?version=<v>&project=<id> URI. The
// canonical form strips query parameters so differently versioned lookups of
// the same secret share one cache bucket.
type reference struct {
	name      string
	version   string
	project   string
	canonical string
}

func parseReference(raw string) (reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return reference{}, errors.New("secrets: empty reference")
	}

	rest, ok := strings.CutPrefix(trimmed, referenceScheme)
	if !ok {
		return reference{}, fmt.Errorf("secrets: unsupported reference %q", raw)
	}

	name, query, _ := strings.Cut(rest, "?")
	name = strings.Trim(name, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	ref := reference{
		name:      name,
		version:   latestVersion,
		canonical: referenceScheme + name,
	}

	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
		}
		if v := strings.TrimSpace(values.Get("version")); v != "" {
			ref.version = v
		}
		ref.project = strings.TrimSpace(values.Get("project"))
	}

	return ref, nil
}

func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
