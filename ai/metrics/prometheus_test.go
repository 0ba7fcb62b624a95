package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterRecords(t *testing.T) {
	e := NewExporter(DefaultConfig())

	e.TurnStarted()
	e.RecordTurn(OutcomeOK, 120*time.Millisecond)
	e.RecordTurn(OutcomeHandoff, 300*time.Millisecond)
	e.TurnFinished()

	e.RecordProviderCall("openai", "gpt-4o", true, 500*time.Millisecond)
	e.RecordProviderCall("openai", "gpt-4o", false, 100*time.Millisecond)
	e.RecordFailover("deepseek")
	e.RecordTokens("gpt-4o", 1200, 300)

	e.RecordHandoff("sensitive_keyword")
	e.RecordDispatch("sent")
	e.RecordDispatch("no_consent")
	e.RecordCacheHit("agent_config")
	e.RecordCacheMiss("catalog")

	families, err := e.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"conversia_engine_turn_latency_seconds",
		"conversia_engine_turns_total",
		"conversia_llm_provider_calls_total",
		"conversia_llm_tokens_total",
		"conversia_llm_failovers_total",
		"conversia_engine_handoffs_total",
		"conversia_dispatch_scheduled_messages_total",
		"conversia_store_cache_hits_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestExporterHandler(t *testing.T) {
	e := NewExporter(DefaultConfig())
	e.RecordTurn(OutcomeOK, 100*time.Millisecond)
	e.RecordTokens("gpt-4o-mini", 10, 5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "conversia_engine_turns_total"))
	assert.True(t, strings.Contains(string(body), `token_type="prompt"`))
}
