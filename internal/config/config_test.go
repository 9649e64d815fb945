package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, 60, cfg.RateLimit.PerTool)
	assert.Equal(t, "1000", cfg.Safety.AutoApprovalMaxNotional.String())
}

func TestValidateRejectsUnknownEnv(t *testing.T) {
	cfg := Default()
	cfg.Env = "staging"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Broker.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidTimezone(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Timezone = "Not/AZone"
	assert.Error(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".yaml", ".json"} {
		ext := ext
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			cfg.Broker.ClientID = "acct-123"
			path := filepath.Join(dir, "cfg"+ext)

			require.NoError(t, cfg.SaveToFile(path))
			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Broker.ClientID, loaded.Broker.ClientID)
			assert.Equal(t, cfg.RateLimit.Global, loaded.RateLimit.Global)
		})
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("BROKER_HOST", "api-fxtrade.oanda.com")
	os.Setenv("BROKER_TOKEN", "secret-token")
	os.Setenv("KILL_SWITCH_ENABLED", "true")
	os.Setenv("RATE_LIMIT_GLOBAL", "5000")
	os.Setenv("AUDIT_PUBLISH_URL", "nats://localhost:4222")
	t.Cleanup(func() {
		os.Unsetenv("BROKER_HOST")
		os.Unsetenv("BROKER_TOKEN")
		os.Unsetenv("KILL_SWITCH_ENABLED")
		os.Unsetenv("RATE_LIMIT_GLOBAL")
		os.Unsetenv("AUDIT_PUBLISH_URL")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "api-fxtrade.oanda.com", cfg.Broker.Host)
	assert.Equal(t, "secret-token", cfg.Broker.Token)
	assert.True(t, cfg.Safety.KillSwitchEnabled)
	assert.Equal(t, 5000, cfg.RateLimit.Global)
	assert.Equal(t, "nats://localhost:4222", cfg.Audit.PublishURL)
}

func TestDefaultBrokerTokenEmpty(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Broker.Token, "the bearer token must never be baked into a default")
}

func TestDefaultAuditPublishURLEmpty(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Audit.PublishURL, "audit mirroring must be opt-in")
	assert.Equal(t, "tradegate.audit", cfg.Audit.PublishSubject)
}
