package config

import (
	"testing"
	"time"
)

func envFrom(m map[string]string) envLookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadRequiresFirebaseProject(t *testing.T) {
	if _, err := load(nil, envFrom(nil)); err == nil {
		t.Fatal("expected error without firebase project id")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, envFrom(map[string]string{"NELO_FIREBASE_PROJECT_ID": "nelo-dev"}))
	if err != nil {
		t.Fatalf("load returned unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != defaultHTTPAddr {
		t.Errorf("expected addr %q, got %q", defaultHTTPAddr, cfg.HTTP.Addr)
	}
	if cfg.Matching.RadiusKm != 5 || cfg.Matching.PoolSize != 10 || cfg.Matching.OfferCount != 5 {
		t.Errorf("unexpected matching defaults: %+v", cfg.Matching)
	}
	if cfg.Matching.OfferTTL != 60*time.Second {
		t.Errorf("expected 60s offer ttl, got %v", cfg.Matching.OfferTTL)
	}
	if cfg.Pricing.DeliveryFee != 500 || cfg.Pricing.MinServiceFee != 100 || cfg.Pricing.ServiceFeeRate != 0.02 {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.AMQP.URL != "" {
		t.Errorf("expected broker disabled by default, got %q", cfg.AMQP.URL)
	}
	if cfg.Reaper.Redispatch {
		t.Error("expected redispatch off by default")
	}
	if cfg.Reaper.MaxDispatchAge != 30*time.Minute {
		t.Errorf("expected 30m max dispatch age, got %v", cfg.Reaper.MaxDispatchAge)
	}
}

func TestLoadEnvAndFlagOverrides(t *testing.T) {
	env := map[string]string{
		"NELO_FIREBASE_PROJECT_ID":     "nelo-dev",
		"NELO_MATCH_RADIUS_KM":         "3.5",
		"NELO_MATCH_OFFER_TTL":         "45s",
		"NELO_REAPER_BATCH":            "20",
		"NELO_DELIVERY_FEE":            "750",
		"NELO_REAPER_MAX_DISPATCH_AGE": "0s",
	}
	args := []string{"-a", ":9090", "--offer-ttl", "30s", "--redispatch"}

	cfg, err := load(args, envFrom(env))
	if err != nil {
		t.Fatalf("load returned unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected flag addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Matching.RadiusKm != 3.5 {
		t.Errorf("expected env radius 3.5, got %v", cfg.Matching.RadiusKm)
	}
	if cfg.Matching.OfferTTL != 30*time.Second {
		t.Errorf("expected flag ttl to win, got %v", cfg.Matching.OfferTTL)
	}
	if cfg.Reaper.BatchSize != 20 {
		t.Errorf("expected batch 20, got %d", cfg.Reaper.BatchSize)
	}
	if cfg.Pricing.DeliveryFee != 750 {
		t.Errorf("expected delivery fee 750, got %d", cfg.Pricing.DeliveryFee)
	}
	if !cfg.Reaper.Redispatch {
		t.Error("expected redispatch flag to enable re-dispatch")
	}
	if cfg.Reaper.MaxDispatchAge != 0 {
		t.Errorf("expected the dispatch age limit disabled, got %v", cfg.Reaper.MaxDispatchAge)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	env := map[string]string{"NELO_FIREBASE_PROJECT_ID": "nelo-dev"}
	if _, err := load([]string{"--offer-ttl", "soon"}, envFrom(env)); err == nil {
		t.Fatal("expected error for invalid offer ttl")
	}
}

func TestLoadFallsBackOnNonPositiveValues(t *testing.T) {
	env := map[string]string{
		"NELO_FIREBASE_PROJECT_ID": "nelo-dev",
		"NELO_MATCH_POOL_SIZE":     "0",
		"NELO_REAPER_INTERVAL":     "-1s",
	}
	cfg, err := load(nil, envFrom(env))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matching.PoolSize != defaultPoolSize {
		t.Errorf("expected default pool size, got %d", cfg.Matching.PoolSize)
	}
	if cfg.Reaper.Interval != defaultReaperInterval {
		t.Errorf("expected default interval, got %v", cfg.Reaper.Interval)
	}
}
