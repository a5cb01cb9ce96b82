package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_PlainStringPassesThrough(t *testing.T) {
	out, err := Render("hello there", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestRender_ContextLookup(t *testing.T) {
	out, err := Render("hi {{.name}}, welcome to {{.channel}}", map[string]any{
		"name":    "Sara",
		"channel": "telegram",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi Sara, welcome to telegram", out)
}

func TestRender_MissingKeyRendersEmpty(t *testing.T) {
	out, err := Render("value: {{.missing}}", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "value: ", out)
}

func TestRender_Funcs(t *testing.T) {
	out, err := Render(`{{upper .name}} / {{default "anonymous" .nick}}`, map[string]any{
		"name": "sara",
	})
	require.NoError(t, err)
	assert.Equal(t, "SARA / anonymous", out)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{.broken", nil)
	assert.Error(t, err)
}

func TestRenderMap(t *testing.T) {
	payload := map[string]any{
		"greeting": "hi {{.name}}",
		"count":    3,
		"nested": map[string]any{
			"channel": "{{.channel}}",
		},
	}

	rendered, err := RenderMap(payload, map[string]any{"name": "Sara", "channel": "telegram"})
	require.NoError(t, err)

	assert.Equal(t, "hi Sara", rendered["greeting"])
	assert.Equal(t, 3, rendered["count"])
	assert.Equal(t, "telegram", rendered["nested"].(map[string]any)["channel"])
}
