package appindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 100, Similarity("chrome", "chrome"))
	assert.Equal(t, 100, Similarity("Chrome", "chrome"))
	assert.Equal(t, 0, Similarity("", "chrome"))
	assert.Equal(t, 0, Similarity("!!!", "chrome"))
}

func TestSimilarityAboveThreshold(t *testing.T) {
	tests := []struct{ a, b string }{
		{"crom", "chrome"},
		{"chrome", "google chrome"},
		{"kalkulator", "calculator"},
		{"visual studio code", "code visual studio"},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.GreaterOrEqual(t, Similarity(tt.a, tt.b), DefaultThreshold)
			assert.Less(t, Similarity(tt.a, tt.b), 100)
		})
	}
}

func TestSimilarityBelowThreshold(t *testing.T) {
	assert.Less(t, Similarity("crom", "firefox"), DefaultThreshold)
	assert.Less(t, Similarity("terminal", "spotify"), DefaultThreshold)
}
