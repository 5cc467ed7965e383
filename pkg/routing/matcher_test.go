package routing_test

import (
	"testing"

	"github.com/illmade-knight/go-gateway-fleet/pkg/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePattern_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		pattern string
	}{
		{"empty pattern", ""},
		{"hash not final", "gateway/#/heartbeat"},
		{"hash in middle of many", "a/#/b/c"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := routing.CompilePattern(tc.pattern)
			require.Error(t, err)
		})
	}
}

func TestPattern_Match(t *testing.T) {
	testCases := []struct {
		name          string
		pattern       string
		topic         string
		wantMatch     bool
		wantWildcards []string
	}{
		{"exact literal", "gateway/gw-1/heartbeat", "gateway/gw-1/heartbeat", true, nil},
		{"literal mismatch", "gateway/gw-1/heartbeat", "gateway/gw-2/heartbeat", false, nil},
		{"case sensitive", "Gateway/gw-1", "gateway/gw-1", false, nil},
		{"plus captures one segment", "gateway/+/heartbeat", "gateway/gw-7/heartbeat", true, []string{"gw-7"}},
		{"plus does not span segments", "gateway/+/heartbeat", "gateway/gw-7/x/heartbeat", false, nil},
		{"two wildcards", "gateway/+/device/+", "gateway/gw-7/device/th-01", true, []string{"gw-7", "th-01"}},
		{"trailing hash matches remainder", "gateway/#", "gateway/gw-7/heartbeat", true, nil},
		{"trailing hash matches zero segments", "gateway/#", "gateway", true, nil},
		{"bare hash matches everything", "#", "a/b/c", true, nil},
		{"hash requires literal prefix", "gateway/#", "fleet/gw-7", false, nil},
		{"shorter topic than pattern", "gateway/+/heartbeat", "gateway/gw-7", false, nil},
		{"longer topic than pattern", "gateway/+", "gateway/gw-7/heartbeat", false, nil},
		{"empty topic", "#", "", false, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pattern, err := routing.CompilePattern(tc.pattern)
			require.NoError(t, err)

			wildcards, ok := pattern.Match(tc.topic)
			assert.Equal(t, tc.wantMatch, ok)
			assert.Equal(t, tc.wantWildcards, wildcards)
		})
	}
}

func TestPattern_Wildcards(t *testing.T) {
	pattern, err := routing.CompilePattern("gateway/+/device/+/#")
	require.NoError(t, err)
	assert.Equal(t, 2, pattern.Wildcards())
}
