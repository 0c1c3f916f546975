package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Weather.EdgeThreshold != 0.03 {
		t.Errorf("EdgeThreshold = %v, want 0.03", cfg.Weather.EdgeThreshold)
	}
	if cfg.Weather.MaxLeadDays != 7 {
		t.Errorf("MaxLeadDays = %v, want 7", cfg.Weather.MaxLeadDays)
	}
	if cfg.Weather.DiscoveryInterval != time.Hour {
		t.Errorf("DiscoveryInterval = %v, want 1h", cfg.Weather.DiscoveryInterval)
	}
	if cfg.Weather.ForecastRefresh != 30*time.Minute {
		t.Errorf("ForecastRefresh = %v, want 30m", cfg.Weather.ForecastRefresh)
	}
	if cfg.Weather.ObservationPoll != 5*time.Minute {
		t.Errorf("ObservationPoll = %v, want 5m", cfg.Weather.ObservationPoll)
	}
	if cfg.Risk.MaxPerMarketUSD != 50 || cfg.Risk.MaxPerRegionUSD != 200 || cfg.Risk.MaxPerDateUSD != 300 {
		t.Errorf("exposure caps = %v/%v/%v, want 50/200/300",
			cfg.Risk.MaxPerMarketUSD, cfg.Risk.MaxPerRegionUSD, cfg.Risk.MaxPerDateUSD)
	}
	if cfg.Risk.MaxDailyLossUSD != 100 {
		t.Errorf("MaxDailyLossUSD = %v, want 100", cfg.Risk.MaxDailyLossUSD)
	}
	if cfg.Risk.MaxDataAge != time.Hour {
		t.Errorf("MaxDataAge = %v, want 1h", cfg.Risk.MaxDataAge)
	}
	if cfg.Risk.MinOrderUSD != 1 || cfg.Risk.MaxOrderUSD != 25 {
		t.Errorf("order band = %v/%v, want 1/25", cfg.Risk.MinOrderUSD, cfg.Risk.MaxOrderUSD)
	}
	if cfg.Executor.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.Executor.PollInterval)
	}
	if cfg.Position.CheckInterval != time.Minute {
		t.Errorf("CheckInterval = %v, want 1m", cfg.Position.CheckInterval)
	}
	if cfg.Position.StopLossEnabled || cfg.Position.TakeProfitEnabled || cfg.Position.TrailingStopEnabled {
		t.Error("inventory guards should default off")
	}
	if cfg.Position.TrailingStopPercent != 15 {
		t.Errorf("TrailingStopPercent = %v, want 15", cfg.Position.TrailingStopPercent)
	}
	if cfg.Position.MinPriceRatioPct != 50 {
		t.Errorf("MinPriceRatioPct = %v, want 50", cfg.Position.MinPriceRatioPct)
	}
	if cfg.DryRun {
		t.Error("DryRun should default false")
	}
	if cfg.Risk.MTMKillSwitch {
		t.Error("MTMKillSwitch should default false")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WEATHER_EDGE_THRESHOLD", "0.05")
	t.Setenv("WEATHER_DRY_RUN", "true")
	t.Setenv("MAX_DAILY_LOSS_USD", "250")
	t.Setenv("WEATHER_FORECAST_REFRESH_MS", "600000")
	t.Setenv("TRAILING_STOP_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Weather.EdgeThreshold != 0.05 {
		t.Errorf("EdgeThreshold = %v, want 0.05", cfg.Weather.EdgeThreshold)
	}
	if !cfg.DryRun {
		t.Error("WEATHER_DRY_RUN=true should set DryRun")
	}
	if cfg.Risk.MaxDailyLossUSD != 250 {
		t.Errorf("MaxDailyLossUSD = %v, want 250", cfg.Risk.MaxDailyLossUSD)
	}
	if cfg.Weather.ForecastRefresh != 10*time.Minute {
		t.Errorf("ForecastRefresh = %v, want 10m", cfg.Weather.ForecastRefresh)
	}
	if !cfg.Position.TrailingStopEnabled {
		t.Error("TRAILING_STOP_ENABLED=true should enable trailing stop")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		cfg.DryRun = true
		return cfg
	}

	t.Run("dry run needs no wallet", func(t *testing.T) {
		cfg := base()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("live requires private key", func(t *testing.T) {
		cfg := base()
		cfg.DryRun = false
		if err := cfg.Validate(); err == nil {
			t.Error("expected error without private key")
		}
	})

	t.Run("edge threshold bounds", func(t *testing.T) {
		cfg := base()
		cfg.Weather.EdgeThreshold = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero edge threshold")
		}
	})

	t.Run("order band", func(t *testing.T) {
		cfg := base()
		cfg.Risk.MaxOrderUSD = 0.5
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when max order < min order")
		}
	})

	t.Run("region cap below market cap", func(t *testing.T) {
		cfg := base()
		cfg.Risk.MaxPerRegionUSD = 10
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when region cap < market cap")
		}
	})

	t.Run("proxy wallet requires funder", func(t *testing.T) {
		cfg := base()
		cfg.DryRun = false
		cfg.Wallet.PrivateKey = "0x" + "11" // placeholder hex
		cfg.Wallet.SignatureType = 1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when signature_type=1 without funder")
		}
	})
}
