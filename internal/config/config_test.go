package config

import "testing"

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voicegate", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Telephony: TelephonyConfig{
			Provider:       "twilio",
			AccountSID:     "AC0000",
			AuthToken:      "token",
			FromNumber:     "+15550001111",
			WebhookBaseURL: "https://voice.example.com",
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AcceptsCompleteLocalConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Inbound.PolicyMode != "open" {
		t.Fatalf("expected open policy default, got %q", c.Inbound.PolicyMode)
	}
	if c.Telephony.Provider != "twilio" {
		t.Fatalf("expected twilio provider, got %q", c.Telephony.Provider)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "voicegate"
	c.Auth.JWTAudience = "api"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_AllowlistRequiresNumbers(t *testing.T) {
	c := validConfig()
	c.Inbound.PolicyMode = "allowlist"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for allowlist without numbers")
	}
	c.Inbound.Numbers = []string{"+15551234567"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_TwilioCredentialsRequired(t *testing.T) {
	c := validConfig()
	c.Telephony.AccountSID = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing account sid")
	}
}

func TestValidate_UnknownProviderRejected(t *testing.T) {
	c := validConfig()
	c.Telephony.Provider = "asterisk"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
