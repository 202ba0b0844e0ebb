package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/irrigation_session/internal/config"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/dispatcher"
)

const seedYAML = `
operators:
  - id: op-1
    chat_handle: "1001"
    first_name: Aziz
plots:
  - id: p1
    operator: op-1
    name: North field
    device_class: channel
    area: 0.5
    ie: 0.65
    wa: 1
    irrigation: true
  - id: p2
    operator: op-1
    name: South field
    device_class: counter
    area: 1
    ie: 0.8
    wa: 1
    irrigation: false
requirements:
  - plot: p1
    date: "2024-06-01"
    required_mm: 20
  - plot: p2
    date: "2024-06-01"
    required_mm: 10
`

func TestSeed_LoadsEligiblePlots(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "seed.db")
	ctx := context.Background()

	var sf seedFile
	require.NoError(t, yaml.Unmarshal([]byte(seedYAML), &sf))

	gw, closeDB, err := openGateway(ctx, cfg)
	require.NoError(t, err)
	defer closeDB()
	require.NoError(t, seed(ctx, gw, sf, cfg.Location()))

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, cfg.Location())
	plots, err := gw.ListEligible(ctx, day)
	require.NoError(t, err)
	require.Len(t, plots, 1)
	assert.Equal(t, "p1", plots[0].PlotID)
	assert.Equal(t, model.LevelMetered, plots[0].DeviceClass)
	assert.Equal(t, 20.0, plots[0].RequiredMM)
}

func TestSeed_RejectsUnknownDeviceClass(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "seed.db")
	ctx := context.Background()

	var sf seedFile
	require.NoError(t, yaml.Unmarshal([]byte(`
plots:
  - id: p9
    operator: op-1
    device_class: sprinkler
    area: 1
    ie: 1
    wa: 1
`), &sf))

	gw, closeDB, err := openGateway(ctx, cfg)
	require.NoError(t, err)
	defer closeDB()
	assert.Error(t, seed(ctx, gw, sf, cfg.Location()))
}

func TestTriggerDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/dispatch", r.URL.Path)
		_ = json.NewEncoder(w).Encode(dispatcher.Report{Eligible: 3, Started: 2, Skipped: 1})
	}))
	defer srv.Close()

	rep, err := triggerDispatch(context.Background(), srv.URL+"/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Started)
	assert.Equal(t, 1, rep.Skipped)
}

func TestTriggerDispatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"store unavailable"}`))
	}))
	defer srv.Close()

	_, err := triggerDispatch(context.Background(), srv.URL, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "irrigationd.yaml")
	dbPath := filepath.Join(dir, "m.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sqlite_path: "+dbPath+"\n"), 0o600))
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("TZ", "")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, cmd.Execute())
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}
