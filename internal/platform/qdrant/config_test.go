package qdrant

import (
	"errors"
	"testing"
)

func TestResolveConfigFromEnv(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "emails")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.URL != "http://qdrant:6333" || cfg.Collection != "emails" || cfg.VectorDim != 1536 {
		t.Fatalf("config: got=%+v", cfg)
	}
}

func TestResolveConfigFromEnvDefaultsCollection(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.Collection != "emails" {
		t.Fatalf("default collection: want=%q got=%q", "emails", cfg.Collection)
	}
}

func TestResolveConfigFromEnvMissingURL(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	t.Setenv("QDRANT_COLLECTION", "emails")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")

	_, err := ResolveConfigFromEnv()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got=%T", err)
	}
	if cfgErr.Code != ConfigErrorMissingURL {
		t.Fatalf("error code: want=%q got=%q", ConfigErrorMissingURL, cfgErr.Code)
	}
}

func TestResolveConfigFromEnvInvalidVectorDim(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "emails")
	t.Setenv("QDRANT_VECTOR_DIM", "not-a-number")

	_, err := ResolveConfigFromEnv()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got=%T", err)
	}
	if cfgErr.Code != ConfigErrorInvalidVectorDim {
		t.Fatalf("error code: want=%q got=%q", ConfigErrorInvalidVectorDim, cfgErr.Code)
	}
}
