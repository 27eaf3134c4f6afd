// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))

	cfg := Default()
	assert.Equal(t, 50, cfg.RateLimit.Limit)
	assert.Equal(t, time.Hour, cfg.RateWindow())
	assert.Equal(t, int64(12000), cfg.Pricing.SubjectFeeCents)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limit:
  limit: 10
  window_minutes: 30
pricing:
  subject_fee_cents: 9900
  enrollment_fee_cents: 2500
  currency: EUR
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Minute, cfg.RateWindow())
	assert.Equal(t, "EUR", cfg.Pricing.Currency)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, ":8086", cfg.Server.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))
	t.Setenv("ENGAGE_HTTP_ADDR", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 0\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsBadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hours:
  days:
    monday:
      - start: "18:00"
        end: "08:00"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operating hours")
}

func TestLoad_MissingExplicitFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestProvider_SwapIsVisibleToAccessors(t *testing.T) {
	p := NewProvider(Default())
	assert.Equal(t, int64(12000), p.Pricing().SubjectFeeCents)

	updated := Default()
	updated.Pricing.SubjectFeeCents = 15000
	p.Replace(updated)
	assert.Equal(t, int64(15000), p.Pricing().SubjectFeeCents)
}

func TestWatcher_ReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 10\n  window_minutes: 60\n"), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)
	provider := NewProvider(initial)

	w, err := NewWatcher(path, provider)
	require.NoError(t, err)
	reloaded := make(chan Config, 1)
	w.OnReload = func(cfg Config) { reloaded <- cfg }
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 25\n  window_minutes: 60\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 25, cfg.RateLimit.Limit)
		assert.Equal(t, 25, provider.Current().RateLimit.Limit)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not happen")
	}
}

func TestWatcher_KeepsPreviousOnInvalidRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 10\n  window_minutes: 60\n"), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)
	provider := NewProvider(initial)

	w, err := NewWatcher(path, provider)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: -1\n"), 0o600))

	// Give the debounce and reload a moment, then confirm the snapshot
	// is unchanged.
	time.Sleep(time.Second)
	assert.Equal(t, 10, provider.Current().RateLimit.Limit)
}
