package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTurn(t *testing.T) {
	before := testutil.ToFloat64(turnsTotal.WithLabelValues("fallback"))
	RecordTurn("fallback", 120*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(turnsTotal.WithLabelValues("fallback")))
}

func TestRecordLLMTokens_SkipsZero(t *testing.T) {
	prompt := testutil.ToFloat64(llmTokensTotal.WithLabelValues("test", "prompt"))
	completion := testutil.ToFloat64(llmTokensTotal.WithLabelValues("test", "completion"))

	RecordLLMTokens("test", 12, 0)

	assert.Equal(t, prompt+12, testutil.ToFloat64(llmTokensTotal.WithLabelValues("test", "prompt")))
	assert.Equal(t, completion, testutil.ToFloat64(llmTokensTotal.WithLabelValues("test", "completion")))
}

func TestRecordToolCallAndPrune(t *testing.T) {
	calls := testutil.ToFloat64(toolCallsTotal.WithLabelValues("add_todo", "success"))
	pruned := testutil.ToFloat64(sessionsPrunedTotal)

	RecordToolCall("add_todo", "success", time.Millisecond)
	RecordSessionsPruned(3)

	assert.Equal(t, calls+1, testutil.ToFloat64(toolCallsTotal.WithLabelValues("add_todo", "success")))
	assert.Equal(t, pruned+3, testutil.ToFloat64(sessionsPrunedTotal))
}

func TestInitMetricsTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		InitMetrics()
		InitMetrics()
	})
}
