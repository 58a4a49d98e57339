package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WSAddr != ":8080" {
		t.Errorf("WSAddr = %q, want :8080", cfg.WSAddr)
	}
	if cfg.TxRetryLimit != 3 {
		t.Errorf("TxRetryLimit = %d, want 3", cfg.TxRetryLimit)
	}
	if cfg.TxTimeoutDuration() != 10*time.Second {
		t.Errorf("TxTimeoutDuration = %v, want 10s", cfg.TxTimeoutDuration())
	}
	if cfg.ActivityTTL() != 30*time.Second {
		t.Errorf("ActivityTTL = %v, want 30s", cfg.ActivityTTL())
	}
	if cfg.ActivitySkip() != 30*time.Second {
		t.Errorf("ActivitySkip = %v, want 30s", cfg.ActivitySkip())
	}
	if cfg.ActivityFlush() != 5*time.Second {
		t.Errorf("ActivityFlush = %v, want 5s", cfg.ActivityFlush())
	}
	if cfg.ActivitySweep() != 5*time.Minute {
		t.Errorf("ActivitySweep = %v, want 5m", cfg.ActivitySweep())
	}
	if cfg.FirehoseKafkaTopic != "sync-firehose" {
		t.Errorf("FirehoseKafkaTopic = %q", cfg.FirehoseKafkaTopic)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WS_ADDR", ":9090")
	t.Setenv("TX_RETRY_LIMIT", "5")
	t.Setenv("ACTIVITY_CACHE_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WSAddr != ":9090" {
		t.Errorf("WSAddr = %q, want :9090", cfg.WSAddr)
	}
	if cfg.TxRetryLimit != 5 {
		t.Errorf("TxRetryLimit = %d, want 5", cfg.TxRetryLimit)
	}
	if cfg.ActivityTTL() != 90*time.Second {
		t.Errorf("ActivityTTL = %v, want 90s", cfg.ActivityTTL())
	}
	brokers := cfg.FirehoseKafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", brokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TX_RETRY_LIMIT", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("negative TX_RETRY_LIMIT should be rejected")
	}

	t.Setenv("TX_RETRY_LIMIT", "3")
	t.Setenv("BCRYPT_COST", "99")
	if _, err := Load(); err == nil {
		t.Fatal("out-of-range BCRYPT_COST should be rejected")
	}
}

func TestDurationFallbacks(t *testing.T) {
	t.Setenv("TX_TIMEOUT", "not-a-duration")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TxTimeoutDuration() != 10*time.Second {
		t.Errorf("invalid TX_TIMEOUT should fall back to 10s, got %v", cfg.TxTimeoutDuration())
	}
}
