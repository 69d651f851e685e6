package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/recede/internal/dynamo"
)

var inf = math.Inf(1)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Controller != "mpc" {
		t.Errorf("expected controller mpc, got %s", cfg.Controller)
	}
	if cfg.Sim.Dt <= 0 {
		t.Error("dt should be positive")
	}
	if got := cfg.Steps(); got != 300 {
		t.Errorf("expected 300 steps, got %d", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `
controller: mpc
mpc:
  horizon: 35
  u_max: 2.5
  x_max: [.inf, 1, 0.2, .inf]
  timeout: 250ms
  fallback: hold
sim:
  init_state:
    theta: 0.05
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := DefaultConfig()
	want.MPC.Horizon = 35
	want.MPC.UMax = 2.5
	want.MPC.XMax = []float64{inf, 1, 0.2, inf}
	want.MPC.Timeout = 250 * time.Millisecond
	want.MPC.Fallback = "hold"
	want.Sim.InitState.Theta = 0.05

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadIntoKeepsBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tweak.yaml")
	if err := os.WriteFile(path, []byte("mpc:\n  horizon: 12\n"), 0644); err != nil {
		t.Fatal(err)
	}

	base := GetPreset("constrained")
	got, err := LoadInto(path, base)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := GetPreset("constrained")
	want.MPC.Horizon = 12
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overlay mismatch (-want +got):\n%s", diff)
	}
	if base.MPC.Horizon != 20 {
		t.Errorf("base mutated: horizon %d", base.MPC.Horizon)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	cfg := GetPreset("constrained")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"controller", func(c *Config) { c.Controller = "pid" }},
		{"integrator", func(c *Config) { c.Integrator = "rk45" }},
		{"discretization", func(c *Config) { c.Plant.Discretization = "tustin" }},
		{"dt", func(c *Config) { c.Sim.Dt = 0 }},
		{"duration", func(c *Config) { c.Sim.Duration = 0.001 }},
		{"bound", func(c *Config) { c.Sim.DivergenceBound = -1 }},
		{"weights", func(c *Config) { c.Cost.R = nil }},
		{"horizon", func(c *Config) { c.MPC.Horizon = 0 }},
		{"formulation", func(c *Config) { c.MPC.Formulation = "banded" }},
		{"terminal", func(c *Config) { c.MPC.Terminal = "lyap" }},
		{"fallback", func(c *Config) { c.MPC.Fallback = "brake" }},
		{"u_max", func(c *Config) { c.MPC.UMax = -1 }},
		{"timeout", func(c *Config) { c.MPC.Timeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) || !errors.Is(err, dynamo.ErrParameterBounds) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateIgnoresMPCForOtherControllers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Controller = "lqr"
	cfg.MPC.Horizon = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("lqr config should not check the horizon: %v", err)
	}
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	want := []string{"balance", "constrained", "mpc", "naive", "sparse"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("presets mismatch (-want +got):\n%s", diff)
	}

	for _, name := range names {
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}

	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestGetPresetReturnsCopy(t *testing.T) {
	a := GetPreset("mpc")
	a.Cost.Q[0] = 42
	a.MPC.Horizon = 1

	b := GetPreset("mpc")
	if b.Cost.Q[0] != 1 || b.MPC.Horizon != 20 {
		t.Error("preset was modified through a returned copy")
	}
}

func TestGetInitState(t *testing.T) {
	cfg := GetPreset("naive")
	if diff := cmp.Diff([]float64{0, 0, 0.1, 0}, cfg.GetInitState()); diff != "" {
		t.Errorf("init state mismatch (-want +got):\n%s", diff)
	}
}
