package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCIILinear(t *testing.T) {
	model, err := Build(loginWorkflow(), nil)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.True(t, strings.HasPrefix(output, "=== Login Flow ===\n\n  ( Start )\n"))
	assert.Contains(t, output, "│ 1. open (openUrl) ")
	assert.Contains(t, output, "│ 4. title (extract) ")
	assert.True(t, strings.HasSuffix(output, "  ( End )\n"))
	assert.Equal(t, 5, strings.Count(output, "▼"))
	assert.NotContains(t, output, "links:")

	// Every box row has the same width.
	var widths []int
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "  ┌") || strings.HasPrefix(line, "  │") {
			widths = append(widths, len([]rune(line)))
		}
	}
	require.NotEmpty(t, widths)
	for _, w := range widths {
		assert.Equal(t, widths[0], w)
	}
}

func TestRenderASCIIWithStatus(t *testing.T) {
	model := &DiagramModel{
		Title: "Test",
		Nodes: []*Node{
			{ID: startID, Label: "Start", Kind: NodeKindStart},
			{ID: "a", Label: "step-a", Kind: NodeKindInput, Step: 1, Status: &StatusOverlay{Status: "completed", DurationMs: 100, Dispatched: true}},
			{ID: "b", Label: "step-b", Kind: NodeKindInput, Step: 2, Status: &StatusOverlay{Status: "failed", Error: strings.Repeat("x", 80) + "\nsecond line"}},
			{ID: "c", Label: "step-c", Kind: NodeKindInput, Step: 3, Status: &StatusOverlay{Status: "running"}},
			{ID: "d", Label: "step-d", Kind: NodeKindInput, Step: 4, Status: &StatusOverlay{Status: "pending"}},
			{ID: endID, Label: "End", Kind: NodeKindEnd},
		},
	}

	output := RenderASCII(model)

	assert.Contains(t, output, "[OK] 100ms dispatched")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "[RUN]")
	assert.Contains(t, output, "[PEND]")
	assert.Contains(t, output, strings.Repeat("x", maxErrWidth-3)+"...")
	assert.NotContains(t, output, "second line")
}

func TestRenderASCIIGuardsAndLinks(t *testing.T) {
	model, err := Build(branchyWorkflow(), nil)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "│ if has(data.cookies)\n     ▼\n")
	assert.Contains(t, output, "   loop")
	assert.Contains(t, output, "links:\n  open ─→ pause\n  rows ─→ open\n")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "first", truncate("first\nsecond", 10))
}
