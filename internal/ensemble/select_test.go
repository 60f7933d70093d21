package ensemble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"llm-ensemble/internal/backend"
)

func TestSelectOutcome(t *testing.T) {
	outcomes := []backend.Outcome{
		{Backend: "failed", FailureReason: "timeout", QualityScore: 0},
		{Backend: "a", Text: "short", QualityScore: 0.4, Latency: 30 * time.Millisecond},
		{Backend: "empty", Text: "", Latency: time.Millisecond},
		{Backend: "b", Text: "a much longer answer", QualityScore: 0.7, Latency: 50 * time.Millisecond},
		{Backend: "c", Text: "mid length", QualityScore: 0.7, Latency: 10 * time.Millisecond},
	}

	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyQuality, "b"},
		{StrategySpeed, "c"},
		{StrategyConsensus, "b"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, ok := selectOutcome(outcomes, tt.strategy)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got.Backend)
		})
	}
}

func TestSelectOutcomeTiesKeepFirst(t *testing.T) {
	outcomes := []backend.Outcome{
		{Backend: "first", Text: "same", QualityScore: 0.5, Latency: 5 * time.Millisecond},
		{Backend: "second", Text: "same", QualityScore: 0.5, Latency: 5 * time.Millisecond},
	}
	for _, s := range AllStrategies() {
		got, ok := selectOutcome(outcomes, s)
		assert.True(t, ok)
		assert.Equal(t, "first", got.Backend, s)
	}
}

func TestSelectOutcomeConsensusCountsRunes(t *testing.T) {
	outcomes := []backend.Outcome{
		{Backend: "kana", Text: "はいできます"},   // 18 bytes, 6 runes
		{Backend: "ascii", Text: "abcdefg"}, // 7 bytes, 7 runes
	}
	got, _ := selectOutcome(outcomes, StrategyConsensus)
	assert.Equal(t, "ascii", got.Backend)
}

func TestSelectOutcomeNoneUsable(t *testing.T) {
	_, ok := selectOutcome([]backend.Outcome{{Backend: "x", FailureReason: "HTTP 500: Internal Server Error"}}, StrategyQuality)
	assert.False(t, ok)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyQuality, false},
		{"quality", StrategyQuality, false},
		{" Speed ", StrategySpeed, false},
		{"CONSENSUS", StrategyConsensus, false},
		{"fastest", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownStrategy)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseCancelMode(t *testing.T) {
	m, err := ParseCancelMode("")
	assert.NoError(t, err)
	assert.Equal(t, CancelAllOrNothing, m)

	m, err = ParseCancelMode("Partial")
	assert.NoError(t, err)
	assert.Equal(t, CancelPartial, m)

	_, err = ParseCancelMode("sometimes")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "はい", truncate("はいできます", 2))
}
