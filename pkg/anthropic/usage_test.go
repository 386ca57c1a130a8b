package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost(t *testing.T) {
	million := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	tests := []struct {
		name  string
		usage TokenUsage
		model string
		want  float64
	}{
		{"haiku", million, "claude-haiku-4-5-20251001", 4.80},
		{"sonnet", million, "claude-sonnet-4-5-20250929", 18.00},
		{"unpriced model", million, "claude-unknown", 0},
		{"no tokens", TokenUsage{}, "claude-haiku-4-5-20251001", 0},
		{
			// 0.40 in + 0.40 out + 0.20 cache write + 0.024 cache read
			"with cache",
			TokenUsage{InputTokens: 500_000, OutputTokens: 100_000, CacheCreationInputTokens: 200_000, CacheReadInputTokens: 300_000},
			"claude-haiku-4-5-20251001",
			1.024,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 1e-9)
		})
	}
}

func TestLogCost(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 120, OutputTokens: 18}.LogCost("claude-haiku-4-5-20251001", "summarize")
		TokenUsage{}.LogCost("", "")
	})
}
