package assistant

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_Strict(t *testing.T) {
	out := ExtractJSON(`{"score": 7, "reasoning": "matches topics"}`)
	require.True(t, out.Parsed)

	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Value, &v))
	assert.Equal(t, float64(7), v["score"])
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	text := "Here is the result:\n```json\n{\"matches\": []}\n```\nLet me know if you need more."
	out := ExtractJSON(text)
	require.True(t, out.Parsed)
	assert.JSONEq(t, `{"matches": []}`, string(out.Value))
}

func TestExtractJSON_OutermostBraces(t *testing.T) {
	text := `Sure! The scores are {"invoice": 8, "report": 2} as requested.`
	out := ExtractJSON(text)
	require.True(t, out.Parsed)
	assert.JSONEq(t, `{"invoice": 8, "report": 2}`, string(out.Value))
}

func TestExtractJSON_Array(t *testing.T) {
	out := ExtractJSON(`The list: [{"slug":"a","score":5}]`)
	require.True(t, out.Parsed)
	assert.JSONEq(t, `[{"slug":"a","score":5}]`, string(out.Value))
}

func TestExtractJSON_UnparseableKeepsRaw(t *testing.T) {
	text := "I could not produce a structured answer."
	out := ExtractJSON(text)
	assert.False(t, out.Parsed)
	assert.Equal(t, text, out.Raw)
}

func TestExtractJSON_BareScalarIsNotStructured(t *testing.T) {
	out := ExtractJSON(`42`)
	assert.False(t, out.Parsed)
}

func TestExtractCode_Fenced(t *testing.T) {
	text := "Here you go:\n```javascript\nfunction generate(toolkit, builder, context) {\n  return builder.done();\n}\n```\nEnjoy!"
	code := ExtractCode(text)
	assert.Contains(t, code, "function generate(toolkit, builder, context)")
	assert.NotContains(t, code, "```")
	assert.NotContains(t, code, "Enjoy")
}

func TestExtractCode_PicksLongestBlock(t *testing.T) {
	text := "```js\n// usage\n```\n```js\nfunction generate(t, b, c) { return b.done(); }\n```"
	code := ExtractCode(text)
	assert.Contains(t, code, "function generate")
}

func TestExtractCode_NoFence(t *testing.T) {
	text := "  function generate(t, b, c) { return null; }  "
	assert.Equal(t, "function generate(t, b, c) { return null; }", ExtractCode(text))
}

func TestExtractCode_Empty(t *testing.T) {
	assert.Equal(t, "", ExtractCode("   \n  "))
}
