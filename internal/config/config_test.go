package config

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvDurList(t *testing.T) {
	def := []time.Duration{time.Second}
	tests := []struct {
		name  string
		value string
		want  []time.Duration
	}{
		{"unset uses default", "", def},
		{"parses list", "30s, 2m,10m", []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}},
		{"invalid entry falls back", "30s,soon", def},
		{"negative entry falls back", "-1s", def},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BACKOFF", tt.value)
			if got := envDurList("TEST_BACKOFF", def); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("envDurList() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadRateLimitConfig_Normalises(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()

	if cfg.Capacity != 1 {
		t.Errorf("Capacity = %d, want 1", cfg.Capacity)
	}
	if cfg.RefillTokens != 1 || cfg.RefillInterval != 2*time.Second {
		t.Errorf("refill = %d per %v, want 1 per 2s", cfg.RefillTokens, cfg.RefillInterval)
	}
	if cfg.TTL != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", cfg.TTL)
	}
}

func TestLoadQueueConfig_Defaults(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "0")
	q := LoadQueueConfig()
	if q.Driver != "amqp" || q.Name != "wallet.jobs" || q.Prefetch != 50 {
		t.Errorf("unexpected defaults: %+v", q)
	}
	if q.Workers != 1 {
		t.Errorf("Workers = %d, want 1", q.Workers)
	}
}
