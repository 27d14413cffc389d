// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livefx/internal/audio"
	"livefx/internal/config"
	"livefx/internal/dsp"
	"livefx/internal/engine"
	"livefx/internal/param"
)

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestParams(t *testing.T) {
	out, err := execute(t, context.Background(), "params")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"STAGE", "pitch", "cents", "reverb", "preset", "delay", "feedback", "mixer", "gain", "pan"} {
		if !strings.Contains(out, want) {
			t.Errorf("params output missing %q:\n%s", want, out)
		}
	}
}

func TestParamsJSON(t *testing.T) {
	out, err := execute(t, context.Background(), "params", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var params []param.Info
	if err := json.Unmarshal([]byte(out), &params); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if want := len(dsp.NewStandardChain().Registry().Snapshot()); len(params) != want {
		t.Errorf("got %d params, want %d", len(params), want)
	}
}

func TestDevicesSimulated(t *testing.T) {
	out, err := execute(t, context.Background(), "devices", "--backend", "simulated")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Available Audio Devices") {
		t.Errorf("devices output:\n%s", out)
	}
}

func TestRunSimulated(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := execute(t, ctx, "run",
		"--backend", "simulated",
		"--control", "",
		"-b", "441",
		"--record", "--record-dir", dir,
		"--pitch", "1200",
		"--set", "delay.feedback=40",
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "running at") || !strings.Contains(out, "Recording saved to:") {
		t.Errorf("run output:\n%s", out)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil || len(files) != 1 {
		t.Fatalf("recordings = %v, %v", files, err)
	}
	info, err := os.Stat(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() <= 44 {
		t.Errorf("recording is only %d bytes", info.Size())
	}
}

func TestRunStartFailureWritesNoRecording(t *testing.T) {
	failure := errors.New("device busy")
	orig := newSource
	newSource = func(cfg *config.Config) (audio.Source, error) {
		src, err := orig(cfg)
		if err != nil {
			return nil, err
		}
		src.(*audio.Simulator).FailOpen = failure
		return src, nil
	}
	t.Cleanup(func() { newSource = orig })

	dir := t.TempDir()
	_, err := execute(t, context.Background(), "run",
		"--backend", "simulated",
		"--control", "",
		"--record", "--record-dir", dir,
	)
	if !errors.Is(err, failure) || !errors.Is(err, engine.ErrEngineStart) {
		t.Fatalf("run = %v, want the open failure as ErrEngineStart", err)
	}
	if files, _ := filepath.Glob(filepath.Join(dir, "*.wav")); len(files) != 0 {
		t.Errorf("failed start left recordings behind: %v", files)
	}
}

func TestRunErrors(t *testing.T) {
	denied := filepath.Join(t.TempDir(), "denied.yaml")
	if err := os.WriteFile(denied, []byte("audio:\n  backend: simulated\n  authorized: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantIs  error
		wantMsg string
	}{
		{"unknown backend", []string{"run", "--backend", "cassette"}, config.ErrInvalid, ""},
		{"sample rate out of range", []string{"run", "--backend", "simulated", "-s", "1000"}, config.ErrInvalid, ""},
		{"malformed set", []string{"run", "--backend", "simulated", "--set", "gain"}, nil, "want stage.param=value"},
		{"non-numeric set", []string{"run", "--backend", "simulated", "--set", "mixer.gain=loud"}, nil, "mixer.gain=loud"},
		{"unknown parameter", []string{"run", "--backend", "simulated", "--control", "", "--set", "mixer.tone=1"}, param.ErrUnknownParameter, ""},
		{"not authorized", []string{"run", "--config", denied, "--control", ""}, engine.ErrNotAuthorized, ""},
		{"missing config", []string{"run", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, nil, "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, context.Background(), tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseSet(t *testing.T) {
	stage, id, v, err := parseSet("reverb.mix= 35")
	if err != nil || stage != "reverb" || id != "mix" || v != 35 {
		t.Errorf("parseSet = %q %q %v %v", stage, id, v, err)
	}
	for _, bad := range []string{"", "=1", "reverb=1", ".mix=1", "reverb.=1", "reverb.mix"} {
		if _, _, _, err := parseSet(bad); err == nil {
			t.Errorf("parseSet(%q) should fail", bad)
		}
	}
}

func TestApplyEffectsClamps(t *testing.T) {
	reg := dsp.NewStandardChain().Registry()
	err := applyEffects(reg, config.EffectsConfig{
		"mixer": {"gain": 3},
		"pitch": {"cents": -1200},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := reg.Get("mixer", "gain"); v != 1 {
		t.Errorf("gain = %v, want clamped to 1", v)
	}
	if v, _ := reg.Get("pitch", "cents"); v != -1200 {
		t.Errorf("cents = %v, want -1200", v)
	}
}
