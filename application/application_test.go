package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-serde/pkg/serde"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

const testConfig = `
log:
  level: warn
logging:
  stream:
    level: debug
serde:
  compatible: true
  maxDepth: 32
  pool:
    name: app
    maxSize: 2
`

type message struct {
	Room    string
	Content string
}

type command struct {
	Name string
}

const allowListConfig = `
serde:
  allowList:
    - github.com/lk2023060901/danmu-garden-serde/application.message
`

func TestConfigPath(t *testing.T) {
	t.Setenv(configPathEnv, "")
	path, err := configPath(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigPath, path)

	t.Setenv(configPathEnv, "/etc/serde.yaml")
	path, err = configPath(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/serde.yaml", path)

	path, err = configPath([]string{"--config", "a.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", path)

	path, err = configPath([]string{"-v", "--config=b.json"})
	require.NoError(t, err)
	assert.Equal(t, "b.json", path)

	_, err = configPath([]string{"--config"})
	assert.Error(t, err)
}

func TestRunWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	app := New()
	require.NoError(t, app.RunWithFile(path, prometheus.NewRegistry()))
	defer app.Close()

	cfg := app.SerdeConfig()
	assert.True(t, cfg.Compatible)
	assert.Equal(t, 32, cfg.MaxDepth)
	assert.NotNil(t, app.Logger("stream"))
	assert.NotNil(t, app.Logger("unknown"))

	p, err := app.Pool("")
	require.NoError(t, err)
	assert.Equal(t, "app", p.Name())
	assert.Equal(t, 2, p.MaxSize())
	same, err := app.Pool("app")
	require.NoError(t, err)
	assert.Same(t, p, same)
	other, err := app.Pool("batch")
	require.NoError(t, err)
	assert.NotSame(t, p, other)

	data, err := p.Marshal(message{Room: "r1", Content: "hi"})
	require.NoError(t, err)
	var out message
	require.NoError(t, p.Unmarshal(data, &out))
	assert.Equal(t, message{Room: "r1", Content: "hi"}, out)
}

func TestRunWithMissingFile(t *testing.T) {
	app := New()
	assert.Error(t, app.RunWithFile(filepath.Join(t.TempDir(), "none.yaml"), nil))
}

func TestAllowListFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(allowListConfig), 0o600))

	app := New()
	require.NoError(t, app.RunWithFile(path, nil))
	defer app.Close()

	checker, ok := app.ClassChecker().(*serde.AllowListChecker)
	require.True(t, ok)
	assert.Len(t, checker.Names(), 1)

	p, err := app.Pool("")
	require.NoError(t, err)
	_, err = p.Marshal(message{Room: "r1"})
	assert.NoError(t, err)
	_, err = p.Marshal(command{Name: "kick"})
	assert.ErrorIs(t, err, merr.ErrInsecure)
}

func TestAllowAndDenyListConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	conf := "serde:\n  allowList: [a.A]\n  denyList: [b.B]\n"
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o600))
	assert.ErrorIs(t, New().RunWithFile(path, nil), merr.ErrParameterInvalid)
}
