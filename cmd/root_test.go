package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/config"
	"github.com/zjrosen/adwd/internal/dispatch"
	"github.com/zjrosen/adwd/internal/flags"
	"github.com/zjrosen/adwd/internal/infrastructure/sqlite"
	"github.com/zjrosen/adwd/internal/testutil"
)

// TestApplyDefaults_MatchesConfigDefaults verifies that the viper seed and
// config.Defaults agree, so a run with no config file behaves exactly like
// one with the default template.
func TestApplyDefaults_MatchesConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	applyDefaults()

	var got config.Config
	require.NoError(t, viper.Unmarshal(&got))
	require.Equal(t, config.Defaults(), got)
}

func TestServiceSpecs(t *testing.T) {
	services := config.ServicesConfig{
		Webhook: config.ServiceConfig{
			Enabled: true,
			Command: "adw-webhook",
			Port:    8002,
		},
		Tunnel: config.ServiceConfig{
			Enabled:  false,
			Command:  "cloudflared",
			Args:     []string{"tunnel", "run"},
			TokenEnv: "ADWD_TUNNEL_TOKEN",
		},
	}

	specs := serviceSpecs(services)
	require.Len(t, specs, 2)

	webhook := specs[dispatch.ServiceWebhook]
	require.Equal(t, "adw-webhook", webhook.Command)
	require.Equal(t, []string{"--port", "8002"}, webhook.Args)

	// Disabled services still get a spec; Enabled only gates auto-start.
	tunnel := specs[dispatch.ServiceTunnel]
	require.Equal(t, "cloudflared", tunnel.Command)
	require.Equal(t, []string{"tunnel", "run"}, tunnel.Args)
	require.Equal(t, "ADWD_TUNNEL_TOKEN", tunnel.TokenEnv)
}

func TestServiceSpecs_UnconfiguredServicesOmitted(t *testing.T) {
	specs := serviceSpecs(config.Defaults().Services)
	require.Empty(t, specs)
}

func TestClassifierActive(t *testing.T) {
	tests := []struct {
		name   string
		cc     config.ClassifierConfig
		flags  map[string]bool
		active bool
	}{
		{
			name:   "enabled with command",
			cc:     config.ClassifierConfig{Enabled: true, Command: "adw-classify"},
			active: true,
		},
		{
			name:   "no command is never active",
			cc:     config.ClassifierConfig{Enabled: true},
			active: false,
		},
		{
			name:   "disabled without flag",
			cc:     config.ClassifierConfig{Command: "adw-classify"},
			active: false,
		},
		{
			name:   "rollout flag forces it on",
			cc:     config.ClassifierConfig{Command: "adw-classify"},
			flags:  map[string]bool{flags.FlagClassifierFallback: true},
			active: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.active, classifierActive(tt.cc, flags.New(tt.flags)))
		})
	}
}

func TestSyncOnce_IndexesStateFiles(t *testing.T) {
	stateRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "adwd.db")

	testutil.NewBuilder(t, stateRoot).
		WithWorkflow("0a1b2c3d", testutil.Issue("7"), testutil.Status(adw.StatusCompleted)).
		Build()

	var out bytes.Buffer
	require.NoError(t, syncOnce(context.Background(), &out, stateRoot, dbPath, false))
	require.Contains(t, out.String(), "Indexed 1 of 1 workflows")

	db, err := sqlite.NewDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	indexed, err := db.HistoryRepository().Get("0a1b2c3d")
	require.NoError(t, err)
	require.Equal(t, adw.StatusCompleted, indexed.Status)
	require.Equal(t, "7", indexed.IssueID)
}

func TestSyncOnce_ResyncCosts(t *testing.T) {
	stateRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "adwd.db")

	// One completed run with a cost ledger, one without.
	testutil.NewBuilder(t, stateRoot).
		WithCompletedRun("cafe0001").
		WithWorkflow("cafe0002", testutil.Status(adw.StatusCompleted)).
		Build()

	var out bytes.Buffer
	require.NoError(t, syncOnce(context.Background(), &out, stateRoot, dbPath, true))
	require.Contains(t, out.String(), "Indexed 2 of 2 workflows")
	require.Contains(t, out.String(), "Updated costs on 1 completed workflows (1 without cost data, 0 failed)")
}

func TestRunConfigInit(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { cfgFile = "" })

	require.NoError(t, runConfigInit(configInitCmd, nil))

	data, err := os.ReadFile(cfgFile)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "# adwd Configuration"))

	// A second init must not clobber operator edits.
	err = runConfigInit(configInitCmd, nil)
	require.ErrorContains(t, err, "already exists")
}

func TestRunConfigSetFlag(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { cfgFile = "" })
	require.NoError(t, config.WriteDefaultConfig(cfgFile))

	require.NoError(t, runConfigSetFlag(configSetFlagCmd, []string{flags.FlagCostResync, "true"}))

	data, err := os.ReadFile(cfgFile)
	require.NoError(t, err)
	var doc struct {
		Flags map[string]bool `yaml:"flags"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.True(t, doc.Flags[flags.FlagCostResync])

	// The untouched sections keep their comments.
	require.Contains(t, string(data), "# adwd Configuration")
}

func TestRunConfigSetFlag_RejectsNonBool(t *testing.T) {
	err := runConfigSetFlag(configSetFlagCmd, []string{"cost-resync", "maybe"})
	require.ErrorContains(t, err, "must be true or false")
}

func TestActiveConfigPath_PrefersFlag(t *testing.T) {
	cfgFile = "/tmp/explicit.yaml"
	t.Cleanup(func() { cfgFile = "" })
	require.Equal(t, "/tmp/explicit.yaml", activeConfigPath())
}

// TestBuildDaemon_ServesAndShutsDown wires the full daemon against temp
// directories, hits the health endpoint, and tears it down.
func TestBuildDaemon_ServesAndShutsDown(t *testing.T) {
	c := config.Defaults()
	c.State.Root = t.TempDir()
	c.State.WorktreeRoot = filepath.Join(c.State.Root, "trees")
	c.History.DBPath = filepath.Join(c.State.Root, "adwd.db")
	c.History.SyncIntervalSeconds = 1
	c.Server.Port = 0

	d, err := buildDaemon(&c)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- d.server.Start() }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", d.server.Port()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.shutdown(ctx)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}
