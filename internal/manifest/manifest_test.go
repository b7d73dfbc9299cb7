package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func decode(t *testing.T, out string) document {
	var doc document
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	return doc
}

func TestRenderDeclaresRequiredFields(t *testing.T) {
	out := Render(Params{
		ChannelToken:   "tok-123",
		InternalAPIKey: "internal-abc",
		UpstreamAPIKey: "upstream-xyz",
		ModelID:        "gpt-4",
		PricingDenom:   "ibc/ABC",
	})
	doc := decode(t, out)

	svc := doc.Services[serviceName]
	require.Contains(t, svc.Env, "MODEL_ID=gpt-4")
	require.Contains(t, svc.Env, "API_KEY=upstream-xyz")
	require.Contains(t, svc.Env, "TELEGRAM_BOT_TOKEN=tok-123")
	require.Contains(t, svc.Env, "OPENCLAW_GATEWAY_TOKEN=internal-abc")
	require.Contains(t, svc.Env, "TELEGRAM_ENABLED=true")
	require.Equal(t, "ibc/ABC", doc.Profiles.Placement.Akash.Pricing[serviceName].Denom)
	require.Equal(t, 80, svc.Expose[0].As)
	require.Equal(t, 18789, svc.Expose[0].Port)
}

// TestRenderIsInjectionSafe exercises values that would have broken the old
// hand-rolled sanitize() step (embedded quote, newline, NUL, backslash): the
// decoded document must still have exactly its six env entries and its one
// service, proving yaml.v3 escaped the scalars rather than letting them break out
// into new YAML structure.
func TestRenderIsInjectionSafe(t *testing.T) {
	out := Render(Params{
		ChannelToken:   "evil\"\n  - FOO: bar\r\x00",
		InternalAPIKey: `back\slash`,
		UpstreamAPIKey: "k",
		ModelID:        "m",
		PricingDenom:   "d",
	})
	doc := decode(t, out)

	svc := doc.Services[serviceName]
	require.Contains(t, svc.Env, "TELEGRAM_BOT_TOKEN=evil\"\n  - FOO: bar\r\x00")
	require.Contains(t, svc.Env, `OPENCLAW_GATEWAY_TOKEN=back\slash`)
	require.Len(t, svc.Env, 6, "no injected env entries from the malicious value")
	require.Len(t, doc.Services, 1, "no injected top-level services")
}
