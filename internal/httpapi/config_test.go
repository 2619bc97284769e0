package httpapi

import "testing"

func TestConfigValidateAppliesDefaults(test *testing.T) {
	cfg := Config{
		SessionSigningKey: "key",
		ServiceToken:      "token",
		WebhookSecret:     "secret",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		test.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.SessionIssuer != defaultSessionIssuer || cfg.SessionCookieName != defaultSessionCookie {
		test.Fatalf("expected session defaults, got %q/%q", cfg.SessionIssuer, cfg.SessionCookieName)
	}
	if len(cfg.AllowedOrigins) != 1 {
		test.Fatalf("expected default origin, got %v", cfg.AllowedOrigins)
	}
}

func TestConfigValidateRequiresSecrets(test *testing.T) {
	missingKey := Config{ServiceToken: "token", WebhookSecret: "secret"}
	if err := missingKey.Validate(); err == nil {
		test.Fatal("expected error for missing signing key")
	}
	missingToken := Config{SessionSigningKey: "key", WebhookSecret: "secret"}
	if err := missingToken.Validate(); err == nil {
		test.Fatal("expected error for missing service token")
	}
	missingSecret := Config{SessionSigningKey: "key", ServiceToken: "token"}
	if err := missingSecret.Validate(); err == nil {
		test.Fatal("expected error for missing webhook secret")
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	origins := ParseAllowedOrigins(" http://a.example , ,http://b.example")
	if len(origins) != 2 || origins[0] != "http://a.example" || origins[1] != "http://b.example" {
		test.Fatalf("unexpected origins: %v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatal("expected empty slice for blank input")
	}
}
