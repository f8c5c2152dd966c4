package config

import (
	"testing"
	"time"
)

func TestStoreMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		mongo string
		want  string
	}{
		{"default is local", "", "", ModeLocal},
		{"remote config selects cloud", "", "mongodb://localhost:27017", ModeCloud},
		{"explicit local wins", ModeLocal, "mongodb://localhost:27017", ModeLocal},
		{"explicit memory", ModeMemory, "", ModeMemory},
		{"unknown mode ignored", "bogus", "", ModeLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Store: StoreConfig{Mode: tt.mode}, Mongo: MongoConfig{URL: tt.mongo}}
			if got := c.StoreMode(); got != tt.want {
				t.Fatalf("StoreMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("STORE_MODE", "memory")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("GUEST_CODE_ATTEMPTS", "3")
	t.Setenv("SMTP_USE_TLS", "true")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	c := Load()
	if c.Store.Mode != "memory" {
		t.Errorf("Store.Mode = %q", c.Store.Mode)
	}
	if c.Auth.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v", c.Auth.SessionTTL)
	}
	if c.RateLimit.GuestAttempts != 3 {
		t.Errorf("GuestAttempts = %d", c.RateLimit.GuestAttempts)
	}
	if !c.Email.SMTPUseTLS {
		t.Error("SMTPUseTLS not parsed")
	}
	if c.Database.MaxConns != 10 {
		t.Errorf("bad int should fall back, got %d", c.Database.MaxConns)
	}
}
