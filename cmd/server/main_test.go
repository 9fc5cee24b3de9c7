package main

import (
	"testing"

	"github.com/EnZo1826/SmartPOS/internal/config"
)

func TestValidateSecurityConfigRejectsShortSecretWithDatabase(t *testing.T) {
	err := validateSecurityConfig(config.Config{DatabaseURL: "postgres://db/pos", AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAllowsDevMode(t *testing.T) {
	if err := validateSecurityConfig(config.Config{}); err != nil {
		t.Fatalf("expected in-memory dev mode to pass, got %v", err)
	}
	err := validateSecurityConfig(config.Config{
		DatabaseURL: "postgres://db/pos",
		AuthSecret:  "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
