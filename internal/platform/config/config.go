// Package config assembles runtime configuration from defaults, .env files,
// environment variables, and Secret Manager references.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultCurrency     = "USD"
	defaultPageSize     = 20
	defaultMaxPageSize  = 100
	defaultEventsTopic  = "order-events"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Gateway   GatewayConfig
	Events    EventsConfig
	Checkout  CheckoutConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig collects payment gateway credentials and defaults.
type GatewayConfig struct {
	StripeAPIKey         string
	WebhookSigningSecret string
	Currency             string
}

// EventsConfig identifies the Pub/Sub topic receiving order lifecycle events.
type EventsConfig struct {
	ProjectID string
	TopicID   string
}

// CheckoutConfig holds order listing and pagination limits.
type CheckoutConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields: %s", strings.Join(e.fields, ", "))
}

// Fields lists the offending configuration fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError wraps failures while resolving secret references.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolving secret %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// envSource layers configuration inputs. Explicit maps win over the system
// environment, which wins over the .env file.
type envSource struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func (s envSource) value(key string) string {
	if v, ok := s.explicit[key]; ok {
		return v
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
	}
	return s.dotenv[key]
}

func (s envSource) str(key, fallback string) string {
	if v := s.value(key); v != "" {
		return v
	}
	return fallback
}

func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	if v := s.value(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (s envSource) count(key string, fallback int) int {
	if v := s.value(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := parseEnvFile(options.envFile)
	if err != nil {
		return Config{}, err
	}

	env := envSource{
		explicit: options.envMap,
		system:   options.useSystemEnv,
		dotenv:   dotenv,
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			StripeAPIKey:         env.str("API_GATEWAY_STRIPE_API_KEY", ""),
			WebhookSigningSecret: env.str("API_GATEWAY_WEBHOOK_SIGNING_SECRET", ""),
			Currency:             strings.ToUpper(env.str("API_GATEWAY_CURRENCY", defaultCurrency)),
		},
		Events: EventsConfig{
			ProjectID: env.str("API_EVENTS_PROJECT_ID", ""),
			TopicID:   env.str("API_EVENTS_TOPIC_ID", defaultEventsTopic),
		},
		Checkout: CheckoutConfig{
			DefaultPageSize: env.count("API_CHECKOUT_DEFAULT_PAGE_SIZE", defaultPageSize),
			MaxPageSize:     env.count("API_CHECKOUT_MAX_PAGE_SIZE", defaultMaxPageSize),
		},
	}

	// Firestore and events projects default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}

	for _, field := range []*string{&cfg.Gateway.StripeAPIKey, &cfg.Gateway.WebhookSigningSecret} {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference normalises secret:// and the legacy sm:// alias; other
// values are treated as literals.
func secretReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "secret://") {
		return trimmed, true
	}
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest, true
	}
	return "", false
}

func (cfg Config) validate() error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if len(cfg.Gateway.Currency) != 3 {
		missing = append(missing, "Gateway.Currency")
	}
	if cfg.Checkout.DefaultPageSize <= 0 {
		missing = append(missing, "Checkout.DefaultPageSize")
	}
	if cfg.Checkout.MaxPageSize < cfg.Checkout.DefaultPageSize {
		missing = append(missing, "Checkout.MaxPageSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// parseEnvFile reads a dotenv style file. Blank lines and # comments are
// skipped, an optional export prefix is stripped, and values may be quoted.
func parseEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}

	values := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "export "); ok {
			line = strings.TrimSpace(rest)
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return values, nil
}
