package killswitch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKillSwitch(t *testing.T) *KillSwitch {
	t.Helper()
	ks, err := New(filepath.Join(t.TempDir(), "ks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func TestKillSwitchStartsDisabled(t *testing.T) {
	t.Parallel()
	ks := newTestKillSwitch(t)
	enabled, _ := ks.IsEnabled(context.Background())
	assert.False(t, enabled)
	assert.NoError(t, ks.CheckOrFail(context.Background(), "submit_order"))
}

func TestKillSwitchActivateBlocksWrites(t *testing.T) {
	t.Parallel()
	ks := newTestKillSwitch(t)
	require.NoError(t, ks.Activate(context.Background(), "manual halt", "ops"))

	enabled, reason := ks.IsEnabled(context.Background())
	assert.True(t, enabled)
	assert.Equal(t, "manual halt", reason)

	err := ks.CheckOrFail(context.Background(), "submit_order")
	assert.Error(t, err)
}

func TestKillSwitchReleaseRestoresWrites(t *testing.T) {
	t.Parallel()
	ks := newTestKillSwitch(t)
	require.NoError(t, ks.Activate(context.Background(), "manual halt", "ops"))
	require.NoError(t, ks.Release(context.Background(), "ops"))

	enabled, _ := ks.IsEnabled(context.Background())
	assert.False(t, enabled)
}

func TestKillSwitchEnvOverrideWins(t *testing.T) {
	os.Setenv("KILL_SWITCH_ENABLED", "true")
	os.Setenv("KILL_SWITCH_REASON", "env forced")
	t.Cleanup(func() {
		os.Unsetenv("KILL_SWITCH_ENABLED")
		os.Unsetenv("KILL_SWITCH_REASON")
	})

	ks := newTestKillSwitch(t)
	enabled, reason := ks.IsEnabled(context.Background())
	assert.True(t, enabled)
	assert.Equal(t, "env forced", reason)

	err := ks.Release(context.Background(), "ops")
	assert.Error(t, err, "release must not succeed while the env override forces activation")
}
