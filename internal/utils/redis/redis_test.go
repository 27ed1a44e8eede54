package redis

import (
	"testing"

	"github.com/tensorplex-labs/conformal/internal/config"
)

func TestNewRedis_NilConfig(t *testing.T) {
	if _, err := NewRedis(nil); err == nil {
		t.Fatal("expected error when cfg is nil")
	}
}

func TestNewRedis_Unreachable(t *testing.T) {
	// rueidis dials on construction, so a closed port fails fast
	_, err := NewRedis(&config.RedisEnvConfig{RedisHost: "127.0.0.1", RedisPort: 1})
	if err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
