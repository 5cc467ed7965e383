package routing_test

import (
	"testing"

	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_CapturesAndOriginalTopic(t *testing.T) {
	captures := routing.Captures{
		"gateway_id":          "gw-7",
		routing.OriginalTopic: "gateway/gw-7/heartbeat",
	}

	rendered, err := routing.Render("monitoring/gateways/{original_topic}", captures)
	require.NoError(t, err)
	assert.Equal(t, "monitoring/gateways/gateway/gw-7/heartbeat", rendered)

	rendered, err = routing.Render("config/{gateway_id}/push", captures)
	require.NoError(t, err)
	assert.Equal(t, "config/gw-7/push", rendered)
}

func TestRender_UnresolvedPlaceholderFails(t *testing.T) {
	_, err := routing.Render("config/{device_id}/push", routing.Captures{"gateway_id": "gw-7"})
	require.Error(t, err)

	var renderErr *routing.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "device_id", renderErr.Placeholder)
}

func TestRender_LiteralText(t *testing.T) {
	rendered, err := routing.Render("no/placeholders/here", routing.Captures{})
	require.NoError(t, err)
	assert.Equal(t, "no/placeholders/here", rendered)

	// An unclosed brace is literal text, not a placeholder.
	rendered, err = routing.Render("odd/{brace", routing.Captures{})
	require.NoError(t, err)
	assert.Equal(t, "odd/{brace", rendered)
}
