package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sygnalgo/pushgateway/notificationservice/config"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sygnal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalAPNsConfig = `
apps:
  com.example.ios:
    type: apns
    certfile: /etc/sygnal/ios.pem
`

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalAPNsConfig)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.HTTP.ListenAddr)
	assert.Equal(t, int64(512*1024), cfg.HTTP.MaxRequestBytes)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingAppsIsError(t *testing.T) {
	path := writeTempConfig(t, "http:\n  listen_addr: \":8090\"\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "at least one app_id")
}

func TestLoad_FCMLegacyRequiresAPIKey(t *testing.T) {
	path := writeTempConfig(t, "apps:\n  com.example.android:\n    type: fcm\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "api_key")
}

func TestLoad_FCMV1RequiresProjectAndServiceAccount(t *testing.T) {
	path := writeTempConfig(t, "apps:\n  com.example.android:\n    type: fcm\n    api_version: v1\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "project_id")
}

func TestLoad_WebPushRequiresVAPIDKeys(t *testing.T) {
	path := writeTempConfig(t, "apps:\n  com.example.web:\n    type: webpush\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "vapid_public_key")
}

func TestLoad_UnknownTypeIsError(t *testing.T) {
	path := writeTempConfig(t, "apps:\n  com.example.x:\n    type: carrier_pigeon\n")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "unknown type")
}

func TestLoad_EnvOverridesListenAddr(t *testing.T) {
	path := writeTempConfig(t, minimalAPNsConfig)
	t.Setenv("SYGNAL_LISTEN_ADDR", ":9999")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.ListenAddr)
}

func TestLoad_FullConfigParsesEveryAppType(t *testing.T) {
	path := writeTempConfig(t, `
http:
  listen_addr: ":8443"
  max_request_bytes: 1048576
log:
  level: debug
metrics:
  enabled: true
proxy:
  url: "http://proxy.internal:3128"
redis:
  addr: "redis:6379"
apps:
  com.example.ios:
    type: apns
    keyfile: /etc/sygnal/AuthKey.p8
    key_id: ABC123
    team_id: TEAM123
    topic: com.example.ios
  com.example.android:
    type: fcm
    api_version: v1
    project_id: my-project
    service_account_file: /etc/sygnal/sa.json
  com.example.web:
    type: webpush
    vapid_public_key: pub
    vapid_private_key: priv
    subscriber: "mailto:ops@example.com"
    allowed_endpoints:
      - "https://fcm.googleapis.com/"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Len(t, cfg.Apps, 3)
	assert.Equal(t, "com.example.ios", cfg.Apps[0].AppID, "registration order must match the file's declaration order")
	assert.Equal(t, "com.example.android", cfg.Apps[1].AppID)
	assert.Equal(t, "com.example.web", cfg.Apps[2].AppID)

	ios, ok := cfg.Apps.Find("com.example.ios")
	require.True(t, ok)
	assert.Equal(t, "apns", ios.Type)

	android, ok := cfg.Apps.Find("com.example.android")
	require.True(t, ok)
	assert.Equal(t, "v1", android.APIVersion)

	webApp, ok := cfg.Apps.Find("com.example.web")
	require.True(t, ok)
	assert.Equal(t, []string{"https://fcm.googleapis.com/"}, webApp.AllowedEndpoints)
}
