package config

import "testing"

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EGM.ListenPort != 6510 {
		t.Errorf("EGM.ListenPort = %d, want 6510", cfg.EGM.ListenPort)
	}
	if cfg.RWS.BaseURL == "" {
		t.Error("RWS.BaseURL default should not be empty")
	}
	if cfg.RMMP.RolloverInterval().Seconds() != 30 {
		t.Errorf("RMMP.RolloverInterval() = %v, want 30s", cfg.RMMP.RolloverInterval())
	}
}
