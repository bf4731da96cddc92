package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigHasSaneSizing(t *testing.T) {
	cfg := Default()
	require.Equal(t, ":8001", cfg.BindAddress)
	require.Positive(t, cfg.IngressQueue)
	require.Positive(t, cfg.FecQueue)
	require.Positive(t, cfg.BatchQueue)
}

func TestParseJSONFileOverridesFields(t *testing.T) {
	path := writeTempConfig(t, `{"bind_address":":9999","fec_workers":4,"metrics":true}`)

	cfg := Default()
	require.NoError(t, ParseJSONFile(&cfg, path))

	require.Equal(t, ":9999", cfg.BindAddress)
	require.Equal(t, 4, cfg.FecWorkers)
	require.True(t, cfg.Metrics)
	// Untouched fields retain their default.
	require.Equal(t, 10000, cfg.IngressQueue)
}

func TestParseJSONFileMissingFileErrors(t *testing.T) {
	cfg := Default()
	require.Error(t, ParseJSONFile(&cfg, filepath.Join(t.TempDir(), "missing.json")))
}

func TestResolveFecWorkersHonorsOverride(t *testing.T) {
	cfg := Config{FecWorkers: 7}
	require.Equal(t, 7, cfg.ResolveFecWorkers())
}

func TestResolveFecWorkersFallsBackToDerived(t *testing.T) {
	cfg := Config{}
	require.GreaterOrEqual(t, cfg.ResolveFecWorkers(), 2)
}

func TestResolveBatchWorkersHonorsOverride(t *testing.T) {
	cfg := Config{BatchWorkers: 3}
	require.Equal(t, 3, cfg.ResolveBatchWorkers())
}

func TestResolveBatchWorkersFallsBackToDerived(t *testing.T) {
	cfg := Config{}
	require.GreaterOrEqual(t, cfg.ResolveBatchWorkers(), 1)
}

func TestResolveGCSettingsConvertSecondsToDuration(t *testing.T) {
	cfg := Config{FecGCInterval: 45, FecTTL: 60, SlotGCInterval: 2, SlotTTL: 90}
	require.Equal(t, 45*time.Second, cfg.ResolveFecGCInterval())
	require.Equal(t, 60*time.Second, cfg.ResolveFecTTL())
	require.Equal(t, 2*time.Second, cfg.ResolveSlotGCInterval())
	require.Equal(t, 90*time.Second, cfg.ResolveSlotTTL())
}

func TestResolveGCSettingsZeroMeansUsePackageDefault(t *testing.T) {
	cfg := Config{}
	require.Zero(t, cfg.ResolveFecGCInterval())
	require.Zero(t, cfg.ResolveFecTTL())
	require.Zero(t, cfg.ResolveSlotGCInterval())
	require.Zero(t, cfg.ResolveSlotTTL())
}

func TestParseJSONFileOverridesGCFields(t *testing.T) {
	path := writeTempConfig(t, `{"fec_gc_interval":45,"fec_ttl":60,"slot_gc_interval":2,"slot_ttl":90}`)

	cfg := Default()
	require.NoError(t, ParseJSONFile(&cfg, path))

	require.Equal(t, 45*time.Second, cfg.ResolveFecGCInterval())
	require.Equal(t, 60*time.Second, cfg.ResolveFecTTL())
	require.Equal(t, 2*time.Second, cfg.ResolveSlotGCInterval())
	require.Equal(t, 90*time.Second, cfg.ResolveSlotTTL())
}
