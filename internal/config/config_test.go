package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadRejectsNonPositiveTunables(t *testing.T) {
	t.Setenv("CATALOG_PAGE_SIZE", "0")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "-3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "banana")

	cfg := Load()
	if cfg.CatalogPageSize != 500 {
		t.Fatalf("expected page size fallback 500, got %d", cfg.CatalogPageSize)
	}
	if cfg.CatalogCacheTTLSeconds != 15 {
		t.Fatalf("expected cache ttl fallback 15, got %d", cfg.CatalogCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
