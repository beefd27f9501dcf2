package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %s", cfg.HTTPAddr)
	}
	if cfg.OfferWindow != 15*time.Second || cfg.OfferFanout != 5 || cfg.OfferMaxRounds != 3 {
		t.Fatalf("unexpected offer defaults: %+v", cfg)
	}
	if cfg.RedisGeoKey != "vehicles_geo" || cfg.KafkaTopic != "vehicle-locations" {
		t.Fatalf("unexpected infra defaults: %+v", cfg)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("OFFER_WINDOW", "30s")
	t.Setenv("OFFER_FANOUT", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.OfferWindow != 30*time.Second || cfg.OfferFanout != 8 {
		t.Fatalf("env overrides lost: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("broker list mangled: %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not normalized: %s", cfg.LogLevel)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("OFFER_WINDOW", "not-a-duration")
	t.Setenv("OFFER_FANOUT", "0")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected joined validation errors")
	}
}
