package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
	assert.False(t, cfg.FollowSymlinks)
	assert.False(t, cfg.Thumbnails.Generate)
	assert.Equal(t, 256, cfg.Thumbnails.MaxEdge)
	assert.Equal(t, Duration(10*time.Second), cfg.Server.ReadHeaderTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steamshots.yaml")
	data := `port: 8080
root_dir: /srv/shots
follow_symlinks: true
log:
  level: debug
server:
  idle_timeout: 30s
webdav:
  enabled: true
auth:
  users:
    alice:
      bcrypt: "$2a$10$abc"
  tokens:
    tok: alice
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.FollowSymlinks)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format, "untouched fields keep defaults")
	assert.Equal(t, Duration(30*time.Second), cfg.Server.IdleTimeout)
	assert.True(t, cfg.WebDAV.Enabled)
	assert.Equal(t, "$2a$10$abc", cfg.Auth.Users["alice"].Bcrypt)
	assert.Equal(t, "alice", cfg.Auth.Tokens["tok"])
	require.NoError(t, cfg.Validate())

	// root_dir is not a setting: the root always comes from the home directory
	root := cfg.ResolveRoot(func() (string, error) { return "/home/gabe", nil })
	assert.Equal(t, filepath.Join("/home/gabe", ".local", "share", "Steam", "userdata"), root.Dir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server:\n  idle_timeout: soon\n"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"STEAMSHOTS_PORT":      "4000",
		"STEAMSHOTS_LOG_LEVEL": "warn",
		"STEAMSHOTS_ROOT":      "/srv/shots", // not a setting; ignored
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	root := cfg.ResolveRoot(func() (string, error) { return "/home/gabe", nil })
	assert.Equal(t, filepath.Join("/home/gabe", ".local", "share", "Steam", "userdata"), root.Dir)

	env["STEAMSHOTS_PORT"] = "http"
	assert.Error(t, Default().ApplyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Auth.Users = map[string]User{"bob": {}}
	assert.Error(t, cfg.Validate())
}

func TestResolveRoot(t *testing.T) {
	cfg := Default()

	root := cfg.ResolveRoot(func() (string, error) { return "/home/gabe", nil })
	require.NoError(t, root.Err)
	assert.Equal(t, filepath.Join("/home/gabe", ".local", "share", "Steam", "userdata"), root.Dir)

	root = cfg.ResolveRoot(func() (string, error) { return "", errors.New("no passwd entry") })
	assert.ErrorIs(t, root.Err, ErrNoHome)
	assert.Empty(t, root.Dir)

	root = cfg.ResolveRoot(func() (string, error) { return "", nil })
	assert.ErrorIs(t, root.Err, ErrNoHome)
}
