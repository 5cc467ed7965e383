package routing_test

import (
	"testing"

	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *routing.Router {
	t.Helper()
	data := []byte(`[
		{
			"name": "heartbeat",
			"topic_pattern": "gateway/+/heartbeat",
			"capture_names": ["gateway_id"],
			"enabled": true,
			"actions": [{"kind": "invoke", "handler": "handleHeartbeat"}]
		},
		{
			"name": "monitoring",
			"topic_pattern": "gateway/#",
			"enabled": true,
			"actions": [{"kind": "republish", "topic_template": "monitoring/gateways/{original_topic}"}]
		},
		{
			"name": "disabled-catchall",
			"topic_pattern": "#",
			"enabled": false,
			"actions": [{"kind": "http_forward", "url": "https://api.example.com/all"}]
		}
	]`)
	rs, err := routing.LoadRuleSet(data, []string{"handleHeartbeat"})
	require.NoError(t, err)
	return routing.NewRouter(rs, zerolog.Nop())
}

func TestRouter_AllMatchingRulesFire(t *testing.T) {
	router := newTestRouter(t)

	matches := router.Route("gateway/gw-7/heartbeat")
	require.Len(t, matches, 2, "both the specific and the catch-all rule must fire")

	assert.Equal(t, "heartbeat", matches[0].Rule.Name)
	assert.Equal(t, "gw-7", matches[0].Captures["gateway_id"])
	assert.Equal(t, "gateway/gw-7/heartbeat", matches[0].Captures[routing.OriginalTopic])

	assert.Equal(t, "monitoring", matches[1].Rule.Name)
	assert.Equal(t, "gateway/gw-7/heartbeat", matches[1].Captures[routing.OriginalTopic])
}

func TestRouter_NoMatchIsEmptyNotError(t *testing.T) {
	router := newTestRouter(t)
	matches := router.Route("fleet/unrelated/topic")
	assert.Empty(t, matches)
}

func TestRouter_DisabledRulesAreSkipped(t *testing.T) {
	router := newTestRouter(t)
	// Only the disabled catch-all would match this topic.
	matches := router.Route("other/thing")
	assert.Empty(t, matches)
}

func TestRouter_RuleOrderIsPreserved(t *testing.T) {
	router := newTestRouter(t)
	matches := router.Route("gateway/gw-1/status")
	require.Len(t, matches, 1)
	assert.Equal(t, "monitoring", matches[0].Rule.Name)
}
