package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bloomcart-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "bloomcart-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "bloomcart-dev" {
		t.Errorf("expected events project to default to firebase project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Events.TopicID != defaultEventsTopic {
		t.Errorf("unexpected default events topic: %s", cfg.Events.TopicID)
	}
	if cfg.Gateway.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Gateway.Currency)
	}
	if cfg.Checkout.DefaultPageSize != defaultPageSize {
		t.Errorf("unexpected default page size: %d", cfg.Checkout.DefaultPageSize)
	}
	if cfg.Checkout.MaxPageSize != defaultMaxPageSize {
		t.Errorf("unexpected max page size: %d", cfg.Checkout.MaxPageSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_FIREBASE_PROJECT_ID":            "bloomcart-prod",
		"API_FIRESTORE_PROJECT_ID":           "bloomcart-fire",
		"API_EVENTS_PROJECT_ID":              "bloomcart-events",
		"API_EVENTS_TOPIC_ID":                "order-events-prod",
		"API_GATEWAY_STRIPE_API_KEY":         "secret://stripe/api",
		"API_GATEWAY_WEBHOOK_SIGNING_SECRET": "sm://stripe/webhook",
		"API_GATEWAY_CURRENCY":               "eur",
		"API_CHECKOUT_DEFAULT_PAGE_SIZE":     "10",
		"API_CHECKOUT_MAX_PAGE_SIZE":         "50",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "secret://stripe/api":
			return "sk_live_123", nil
		case "secret://stripe/webhook":
			return "whsec_456", nil
		default:
			return "", errors.New("unknown secret " + ref)
		}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "bloomcart-fire" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "bloomcart-events" || cfg.Events.TopicID != "order-events-prod" {
		t.Errorf("unexpected events config: %+v", cfg.Events)
	}
	if cfg.Gateway.StripeAPIKey != "sk_live_123" {
		t.Errorf("expected stripe api key to resolve, got %s", cfg.Gateway.StripeAPIKey)
	}
	if cfg.Gateway.WebhookSigningSecret != "whsec_456" {
		t.Errorf("expected webhook secret to resolve via sm:// alias, got %s", cfg.Gateway.WebhookSigningSecret)
	}
	if cfg.Gateway.Currency != "EUR" {
		t.Errorf("expected currency to be upper-cased, got %s", cfg.Gateway.Currency)
	}
	if cfg.Checkout.DefaultPageSize != 10 || cfg.Checkout.MaxPageSize != 50 {
		t.Errorf("unexpected checkout config: %+v", cfg.Checkout)
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":    "bloomcart-dev",
		"API_GATEWAY_STRIPE_API_KEY": "secret://stripe/api",
	}

	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("permission denied")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err == nil {
		t.Fatal("expected error when secret resolution fails")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Errorf("unexpected secret ref: %s", secretErr.Ref)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error when firebase project missing")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validationErr.Fields()
	found := false
	for _, f := range fields {
		if f == "Firebase.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Firebase.ProjectID in %v", fields)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "API_FIREBASE_PROJECT_ID=bloomcart-local\nexport API_SERVER_PORT=7001\n# comment\nAPI_GATEWAY_CURRENCY=\"gbp\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "bloomcart-local" {
		t.Errorf("unexpected firebase project: %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7001" {
		t.Errorf("expected export-prefixed value to load, got %s", cfg.Server.Port)
	}
	if cfg.Gateway.Currency != "GBP" {
		t.Errorf("expected quoted value to load and upper-case, got %s", cfg.Gateway.Currency)
	}
}
