package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/internal/domain"
)

var catalog = []domain.Product{
	{ID: "01t001", Name: "Solar Panel 400W"},
	{ID: "01t002", Name: "Inverter X2"},
	{ID: "01t003", Name: "Mounting Kit"},
}

func TestMatchProductExact(t *testing.T) {
	product, ok := MatchProduct("mounting kit", catalog)
	require.True(t, ok)
	assert.Equal(t, "01t003", product.ID)
}

func TestMatchProductSubstring(t *testing.T) {
	product, ok := MatchProduct("solar panel", catalog)
	require.True(t, ok)
	assert.Equal(t, "Solar Panel 400W", product.Name)
}

func TestMatchProductFuzzy(t *testing.T) {
	product, ok := MatchProduct("inverter x 2", catalog)
	require.True(t, ok)
	assert.Equal(t, "Inverter X2", product.Name)
}

func TestMatchProductNoMatch(t *testing.T) {
	_, ok := MatchProduct("garden gnome", catalog)
	assert.False(t, ok)
}

func TestMatchProductEmptyInputs(t *testing.T) {
	_, ok := MatchProduct("", catalog)
	assert.False(t, ok)
	_, ok = MatchProduct("solar panel", nil)
	assert.False(t, ok)
}

func TestSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("widget", "widget"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("abc", ""))
}

func TestSimilarityPartial(t *testing.T) {
	score := Similarity("solar pannel", "solar panel 400w")
	assert.Greater(t, score, 0.6)
	assert.Less(t, score, 1.0)
}
