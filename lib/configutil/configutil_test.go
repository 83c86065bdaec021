package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Portal struct {
		BaseUrl string `json:"base_url"`
		PlanId  string `json:"plan_id"`
	} `json:"portal"`
	Port int `json:"port"`
}

func TestReadConfigMergesLocalOverride(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(
		filepath.Join(dir, "config.json5"),
		[]byte(`{portal: {base_url: "https://eios.example.ru", plan_id: "1001"}, port: 8110}`),
		0600,
	)
	require.NoError(t, err)
	err = os.WriteFile(
		filepath.Join(dir, "config.local.json5"),
		[]byte(`{portal: {plan_id: "2002"}}`),
		0600,
	)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "https://eios.example.ru", cfg.Portal.BaseUrl)
	require.Equal(t, "2002", cfg.Portal.PlanId)
	require.Equal(t, 8110, cfg.Port)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
