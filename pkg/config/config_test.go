// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import "testing"

func TestLoadRequiresSidFile(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when CORECONF_SID_FILE is unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("CORECONF_SID_FILE", "testdata.sid")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CoAPAddress != ":5683" {
		t.Fatalf("CoAPAddress = %q, want :5683", cfg.CoAPAddress)
	}
	if !cfg.RateLimitEnabled {
		t.Fatalf("RateLimitEnabled = false, want true")
	}
	if cfg.RateLimitCapacity != 100 {
		t.Fatalf("RateLimitCapacity = %d, want 100", cfg.RateLimitCapacity)
	}
	if cfg.MaxGoroutines != 10000 {
		t.Fatalf("MaxGoroutines = %d, want 10000", cfg.MaxGoroutines)
	}
}
