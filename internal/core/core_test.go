package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/config"
)

func TestNewLeavesPublisherNilByDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Env = config.EnvDev

	c, err := New(cfg, ":memory:", ":memory:", ":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Nil(t, c.Publisher, "audit.Publisher must stay unset unless audit.publish_url is configured")
}

func TestNewFailsFastOnUnreachableAuditPublishURL(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Env = config.EnvDev
	cfg.Audit.PublishURL = "nats://127.0.0.1:1"

	_, err := New(cfg, ":memory:", ":memory:", ":memory:", "")
	assert.Error(t, err, "an unreachable audit.publish_url must fail New rather than silently disable mirroring")
}
