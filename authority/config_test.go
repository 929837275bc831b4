// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.ListenAddress != ":7350" {
		t.Fatalf("ListenAddress = %q", config.ListenAddress)
	}
	if config.SampleInterval != 5*time.Second || config.SampleWindow != 60 {
		t.Fatalf("sampler defaults = %v / %d", config.SampleInterval, config.SampleWindow)
	}
	if config.LoadWarningThreshold != 4.0 {
		t.Fatalf("LoadWarningThreshold = %v", config.LoadWarningThreshold)
	}
	if config.DatabasePath != "" {
		t.Fatalf("DatabasePath = %q, want persistence disabled by default", config.DatabasePath)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.yaml")
	contents := `
listen_address: "127.0.0.1:9000"
database_path: "/var/lib/pulseroom/sessions.db"
default_apply_delay_ms: 250
sample_interval: 10s
sample_window: 30
load_warning_threshold: 2.5
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.ListenAddress != "127.0.0.1:9000" {
		t.Fatalf("ListenAddress = %q", config.ListenAddress)
	}
	if config.DefaultApplyDelayMs != 250 {
		t.Fatalf("DefaultApplyDelayMs = %d", config.DefaultApplyDelayMs)
	}
	if config.SampleInterval != 10*time.Second || config.SampleWindow != 30 {
		t.Fatalf("sampler settings = %v / %d", config.SampleInterval, config.SampleWindow)
	}
	if config.LoadWarningThreshold != 2.5 {
		t.Fatalf("LoadWarningThreshold = %v", config.LoadWarningThreshold)
	}
}

func TestNormalizeRejectsNegativeDelay(t *testing.T) {
	config := Config{DefaultApplyDelayMs: -1}
	if err := config.Normalize(); err == nil {
		t.Fatal("Normalize accepted a negative default delay")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadConfig accepted a missing file path")
	}
}
