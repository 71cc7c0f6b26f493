package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/internal/config"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/pkg/schema"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&cli{logOut: io.Discard})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("PROCFLOW_STORE_DSN", "file:"+filepath.Join(t.TempDir(), "procflow.db"))
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	return cfg
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestUserAdd(t *testing.T) {
	t.Chdir(t.TempDir())
	dsn := "file:" + filepath.Join(t.TempDir(), "users.db")

	out, err := execute(t, "user", "add", "--dsn", dsn, "--id", "alice", "--org", "org-1", "--email", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "user alice saved in org org-1")

	_, err = execute(t, "user", "add", "--dsn", dsn, "--id", "bob", "--org", "org-1", "--email", "not-an-email")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestMigrateCmd(t *testing.T) {
	t.Chdir(t.TempDir())
	dsn := "file:" + filepath.Join(t.TempDir(), "migrate.db")

	_, err := execute(t, "migrate", "--dsn", dsn)
	require.NoError(t, err)
	// Idempotent.
	_, err = execute(t, "migrate", "--dsn", dsn)
	require.NoError(t, err)
}

func TestMigrateCmd_BadDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "migrate", "--store-driver", "mysql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.store.UpsertUser(ctx, &schema.User{ID: "alice", OrgID: "org-1", Email: "alice@example.com"}))
	require.NoError(t, a.store.SaveProcedure(ctx, &schema.Procedure{
		ID:        "intake",
		OrgID:     "org-1",
		Name:      "Intake",
		OwnerID:   "alice",
		Published: true,
		Active:    true,
		Trigger:   &schema.Trigger{Type: schema.TriggerOnFileCreated, FolderPath: "inbox"},
		Steps: []schema.Step{{
			ID:         "review",
			Action:     schema.ActionReview,
			Assignment: &schema.Assignment{Type: schema.AssignStarter},
			Config:     schema.ReviewConfig{},
		}},
	}))

	org := schema.OrgContext{OrgID: "org-1", ActorID: "alice"}
	ev := trigger.FileEvent{Path: "inbox/a.pdf", FileID: "f-1"}

	res, err := a.files.DispatchFileEvent(ctx, org, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsCreated)

	res, err = a.files.DispatchFileEvent(ctx, org, ev)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	require.NoError(t, a.startScheduler(ctx))
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := newApp(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}
