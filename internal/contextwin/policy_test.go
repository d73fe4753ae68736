package contextwin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_DefaultShape(t *testing.T) {
	h := makeHistory(10)
	out, ok := DefaultPolicy().Compact(h, "anchor")
	require.True(t, ok)
	require.Len(t, out, 5)

	var got []string
	for _, m := range out {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"m0", "m7", "m8", "m9", "anchor"}, got)
}

func TestPolicy_DoesNotAliasInput(t *testing.T) {
	h := makeHistory(6)
	out, ok := DefaultPolicy().Compact(h, "anchor")
	require.True(t, ok)

	out[1] = nil
	assert.NotNil(t, h[3])
	assert.Equal(t, "m3", h[3].Content)
}

func TestPolicy_CustomWindow(t *testing.T) {
	p := Policy{MinHistory: 8, KeepRecent: 5}

	out, ok := p.Compact(makeHistory(7), "a")
	assert.False(t, ok)
	assert.Len(t, out, 7)

	out, ok = p.Compact(makeHistory(9), "a")
	require.True(t, ok)
	require.Len(t, out, 7)
	assert.Equal(t, "m0", out[0].Content)
	assert.Equal(t, "m4", out[1].Content)
	assert.Equal(t, "m8", out[5].Content)
}

func TestPolicy_WithDefaults(t *testing.T) {
	assert.Equal(t, DefaultPolicy(), Policy{}.withDefaults())

	// MinHistory 过小时会被抬高，避免首条消息落入最近窗口
	p := Policy{MinHistory: 2, KeepRecent: 4}.withDefaults()
	assert.Equal(t, 6, p.MinHistory)

	out, ok := Policy{MinHistory: 2, KeepRecent: 4}.Compact(makeHistory(5), "a")
	assert.False(t, ok)
	assert.Len(t, out, 5)
}
