// Package e2e exercises the whole stack — dispatcher, services, store — the
// way an agent would: JSON-RPC tool calls over HTTP against a real database.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/auth"
	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/consolidation"
	"github.com/engram-memory/engram/pkg/embedding"
	"github.com/engram-memory/engram/pkg/llm"
	"github.com/engram-memory/engram/pkg/mcp"
	"github.com/engram-memory/engram/pkg/services"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/pkg/wal"
	"github.com/engram-memory/engram/test/util"
)

const (
	tokenA = "e2e-tenant-a-key"
	tokenB = "e2e-tenant-b-key"
)

type stack struct {
	server *httptest.Server
	store  *store.Store
	engine *consolidation.Engine
	embeds *embedding.Queue
	now    time.Time
}

// newStack builds the full pipeline over one test schema. embedCfg selects
// the embedding provider; nil means the deterministic local embedder.
func newStack(t *testing.T, embedCfg *config.EmbeddingConfig) *stack {
	t.Helper()
	client := util.SetupTestDatabase(t)
	st := store.New(client)
	warnings := services.NewSystemWarningsService()

	if embedCfg == nil {
		embedCfg = &config.EmbeddingConfig{Provider: "none", Dimension: util.TestEmbeddingDimension}
	}
	embedClient := embedding.NewClient(embedCfg)
	queue := embedding.NewQueue(embedClient, embedding.NewStoreSink(st), 2, 64, warnings)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	llmService := llm.NewService(&config.LLMConfig{Provider: "none"}, warnings)
	engine := consolidation.NewEngine(st, llmService, config.DefaultConsolidationConfig(), queue, warnings)
	now := time.Now().UTC().Truncate(time.Millisecond)
	engine.SetClock(func() time.Time { return now })

	authCfg := config.DefaultAuthConfig()
	authCfg.DevToken = ""
	authCfg.StaticKeys = []config.StaticKeyConfig{
		{Token: tokenA, TenantID: "tenant-a", PrincipalID: "agent-a"},
		{Token: tokenB, TenantID: "tenant-b", PrincipalID: "agent-b"},
	}
	verifier, err := auth.NewVerifier(context.Background(), authCfg, false)
	require.NoError(t, err)

	dispatcher := mcp.NewDispatcher(&mcp.Services{
		Memory:        services.NewMemoryService(st, queue),
		Capsules:      services.NewCapsuleService(st, queue),
		Decisions:     services.NewDecisionService(st),
		Feedback:      services.NewFeedbackService(st, queue),
		Graph:         services.NewGraphService(st),
		Recall:        services.NewRecallService(st, embedClient),
		Wake:          services.NewWakeService(st),
		System:        services.NewSystemService(st, client.DB(), queue, warnings),
		Consolidation: engine,
	})
	httpServer := mcp.NewServer(config.DefaultServerConfig(), verifier, dispatcher)
	ts := httptest.NewServer(httpServer.Handler())
	t.Cleanup(ts.Close)

	return &stack{server: ts, store: st, engine: engine, embeds: queue, now: now}
}

// call performs one tools/call and decodes the result. A JSON-RPC error
// comes back as (nil, rpcErr).
func (s *stack) call(t *testing.T, token, tool string, args map[string]any) (map[string]any, *mcp.RPCError) {
	t.Helper()
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/mcp", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var rpc struct {
		Result json.RawMessage `json:"result"`
		Error  *mcp.RPCError   `json:"error"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rpc))
	if rpc.Error != nil {
		return nil, rpc.Error
	}
	result := map[string]any{}
	require.NoError(t, json.Unmarshal(rpc.Result, &result))
	return result, nil
}

func handoffArgs(session, remember string) map[string]any {
	return map[string]any{
		"session_id":   session,
		"with_whom":    "sam",
		"experienced":  "rebuilt the ingest pipeline and traced a silent retry loop",
		"noticed":      "retries were hiding a misconfigured credential",
		"learned":      "fail fast on configuration errors",
		"becoming":     "more systematic about verifying assumptions",
		"remember":     remember,
		"significance": 0.8,
	}
}

// drainEmbeddings waits for the async embed queue to catch up.
func (s *stack) drainEmbeddings(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		if s.embeds.Backlog() > 0 {
			return false
		}
		missing, err := s.store.ListHandoffsMissingEmbedding(context.Background(), 1)
		return err == nil && len(missing) == 0
	}, 10*time.Second, 50*time.Millisecond)
}

// Scenario: a handoff written at session end comes back through wake_up.
func TestHandoffWakeUpRoundTrip(t *testing.T) {
	s := newStack(t, nil)

	created, rpcErr := s.call(t, tokenA, "create_handoff", handoffArgs("s1", "check the retry budget first"))
	require.Nil(t, rpcErr)
	handoffID := created["handoff_id"].(string)
	require.NotEmpty(t, handoffID)

	bundle, rpcErr := s.call(t, tokenA, "wake_up", map[string]any{"with_whom": "sam"})
	require.Nil(t, rpcErr)

	handoffs, ok := bundle["handoffs"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, handoffs)
	first := handoffs[0].(map[string]any)
	assert.Equal(t, handoffID, first["handoff_id"])
	assert.Equal(t, "check the retry budget first", first["remember"])

	thread, ok := bundle["identity_thread"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, thread)
}

// Scenario: under a simulated clock 35 days ahead, a manual consolidation
// pass compresses the handoff from full to summary, and the tool surfaces
// the job id.
func TestSimulatedClockCompression(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	created, rpcErr := s.call(t, tokenA, "create_handoff", handoffArgs("s1", "normalize per leg before blending"))
	require.Nil(t, rpcErr)
	handoffID := created["handoff_id"].(string)

	s.engine.SetClock(func() time.Time { return s.now.Add(35 * 24 * time.Hour) })
	result, rpcErr := s.call(t, tokenA, "run_consolidation", map[string]any{"tick": "daily"})
	require.Nil(t, rpcErr)
	require.NotEmpty(t, result["job_ids"])

	got, err := s.store.GetHandoff(ctx, "tenant-a", handoffID)
	require.NoError(t, err)
	assert.Equal(t, "summary", string(got.CompressionLevel))
	assert.NotEmpty(t, got.Summary)

	// get_last_handoff now serves the compressed view; expand restores it.
	compact, rpcErr := s.call(t, tokenA, "get_last_handoff", map[string]any{"with_whom": "sam"})
	require.Nil(t, rpcErr)
	assert.Empty(t, compact["experienced"])
	expanded, rpcErr := s.call(t, tokenA, "get_last_handoff", map[string]any{"with_whom": "sam", "expand": true})
	require.Nil(t, rpcErr)
	assert.NotEmpty(t, expanded["experienced"])
}

// Scenario: a depends_on edge that closes a cycle is rejected.
func TestCircularDependencyRejected(t *testing.T) {
	s := newStack(t, nil)

	noteA, rpcErr := s.call(t, tokenA, "create_knowledge_note", map[string]any{"text": "service A owns ingest"})
	require.Nil(t, rpcErr)
	noteB, rpcErr := s.call(t, tokenA, "create_knowledge_note", map[string]any{"text": "service B owns storage"})
	require.Nil(t, rpcErr)
	idA := noteA["note_id"].(string)
	idB := noteB["note_id"].(string)

	_, rpcErr = s.call(t, tokenA, "create_edge", map[string]any{
		"from_node_id": idA, "to_node_id": idB, "type": "depends_on",
	})
	require.Nil(t, rpcErr)

	_, rpcErr = s.call(t, tokenA, "create_edge", map[string]any{
		"from_node_id": idB, "to_node_id": idA, "type": "depends_on",
	})
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.CodeCircularDependency, rpcErr.Code)
}

// Scenario: hybrid recall ranks the on-topic memory first, and keeps
// working in FTS-only mode when the embedding provider is down.
func TestHybridRecallAndFTSFallback(t *testing.T) {
	t.Run("hybrid", func(t *testing.T) {
		s := newStack(t, nil)

		_, rpcErr := s.call(t, tokenA, "create_knowledge_note", map[string]any{
			"text": "keyset pagination avoids deep offset scans on the handoff listing",
		})
		require.Nil(t, rpcErr)
		_, rpcErr = s.call(t, tokenA, "create_knowledge_note", map[string]any{
			"text": "the espresso machine on floor two needs descaling",
		})
		require.Nil(t, rpcErr)
		s.drainEmbeddings(t)

		result, rpcErr := s.call(t, tokenA, "recall", map[string]any{
			"query": "keyset pagination offset scans",
			"types": []string{"knowledge_notes"},
		})
		require.Nil(t, rpcErr)
		results := result["results"].([]any)
		require.NotEmpty(t, results)
		top := results[0].(map[string]any)
		assert.Contains(t, top["snippet"], "keyset pagination")
		assert.Greater(t, top["score"].(float64), 0.0)
	})

	t.Run("fts only", func(t *testing.T) {
		// Embedding provider points at a dead endpoint: writes still succeed
		// and recall degrades to full-text ranking.
		s := newStack(t, &config.EmbeddingConfig{
			Provider:   "ollama",
			Host:       "http://127.0.0.1:1",
			Model:      "nomic-embed-text",
			Dimension:  util.TestEmbeddingDimension,
			Timeout:    200 * time.Millisecond,
			MaxRetries: 1,
			BatchSize:  8,
		})

		_, rpcErr := s.call(t, tokenA, "create_knowledge_note", map[string]any{
			"text": "advisory locks serialize consolidation jobs per tenant",
		})
		require.Nil(t, rpcErr)

		result, rpcErr := s.call(t, tokenA, "recall", map[string]any{
			"query": "advisory locks consolidation",
			"types": []string{"knowledge_notes"},
		})
		require.Nil(t, rpcErr)
		results := result["results"].([]any)
		require.NotEmpty(t, results)
		assert.Contains(t, results[0].(map[string]any)["snippet"], "advisory locks")
	})
}

// Scenario: a journaled operation whose acknowledgement was lost is replayed
// without being applied twice.
func TestWALReplayIsIdempotent(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	walDir := t.TempDir()

	client, err := wal.NewClient(walDir, s.server.URL+"/mcp", tokenA)
	require.NoError(t, err)
	defer client.Close()

	// The operation lands, but simulate a lost acknowledgement by journaling
	// the same op again behind the client's back.
	opID := client.NewOpID()
	args := map[string]any{"text": "retry budgets are part of the interface", "op_id": opID}
	_, rpcErr := s.call(t, tokenA, "remember_note", args)
	require.Nil(t, rpcErr)

	journal, err := wal.Open(walDir)
	require.NoError(t, err)
	require.NoError(t, journal.Append(&wal.Record{
		OpID:       opID,
		Kind:       wal.RecordKindOp,
		ToolName:   "remember_note",
		Arguments:  args,
		EnqueuedAt: time.Now().UTC(),
	}))
	require.NoError(t, journal.Close())
	require.Equal(t, 1, client.Pending())

	replayed, err := client.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 0, client.Pending())

	// The idempotency table absorbed the duplicate: still exactly one note.
	result, rpcErr := s.call(t, tokenA, "get_knowledge_notes", map[string]any{})
	require.Nil(t, rpcErr)
	notes := result["notes"].([]any)
	require.Len(t, notes, 1)

	// Replaying again resends nothing.
	replayed, err = client.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, replayed)
}

// Scenario: nothing written by tenant A is reachable with tenant B's key.
func TestTenantIsolation(t *testing.T) {
	s := newStack(t, nil)

	created, rpcErr := s.call(t, tokenA, "create_handoff", handoffArgs("s1", "tenant A private"))
	require.Nil(t, rpcErr)
	handoffID := created["handoff_id"].(string)

	note, rpcErr := s.call(t, tokenA, "create_knowledge_note", map[string]any{"text": "tenant A keyset pagination note"})
	require.Nil(t, rpcErr)
	s.drainEmbeddings(t)

	// Listings under tenant B are empty.
	listed, rpcErr := s.call(t, tokenB, "list_handoffs", map[string]any{})
	require.Nil(t, rpcErr)
	assert.Empty(t, listed["handoffs"])

	notes, rpcErr := s.call(t, tokenB, "get_knowledge_notes", map[string]any{})
	require.Nil(t, rpcErr)
	assert.Empty(t, notes["notes"])

	// Point reads under tenant B miss.
	_, rpcErr = s.call(t, tokenB, "resolve_node", map[string]any{"node_id": handoffID})
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.CodeNotFound, rpcErr.Code)
	_, rpcErr = s.call(t, tokenB, "resolve_node", map[string]any{"node_id": note["note_id"]})
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.CodeNotFound, rpcErr.Code)

	// Recall under tenant B finds nothing.
	result, rpcErr := s.call(t, tokenB, "recall", map[string]any{
		"query": "keyset pagination", "types": []string{"all"},
	})
	require.Nil(t, rpcErr)
	assert.Empty(t, result["results"])

	// And the naive workaround fails loudly.
	_, rpcErr = s.call(t, tokenB, "list_handoffs", map[string]any{"tenant_id": "tenant-a"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.CodeTenantMismatch, rpcErr.Code)
}

// Scenario: a capsule created with ttl_days=0 lands, and reads back expired
// from the very first read.
func TestZeroTTLCapsuleExpiresOnFirstRead(t *testing.T) {
	s := newStack(t, nil)

	created, rpcErr := s.call(t, tokenA, "create_capsule", map[string]any{
		"scope":        "project",
		"subject_type": "project",
		"subject_id":   "billing-service",
		"ttl_days":     0,
		"items":        map[string]any{"chunks": []string{"cutover notes for the next shift"}},
	})
	require.Nil(t, rpcErr)
	capsuleID := created["capsule_id"].(string)
	require.NotEmpty(t, capsuleID)
	assert.EqualValues(t, 0, created["ttl_days"])

	// Default listings never surface it.
	listed, rpcErr := s.call(t, tokenA, "get_capsules", map[string]any{})
	require.Nil(t, rpcErr)
	assert.Empty(t, listed["capsules"])

	withExpired, rpcErr := s.call(t, tokenA, "get_capsules", map[string]any{"include_expired": true})
	require.Nil(t, rpcErr)
	capsules := withExpired["capsules"].([]any)
	require.Len(t, capsules, 1)
	first := capsules[0].(map[string]any)
	assert.Equal(t, capsuleID, first["capsule_id"])
	assert.Equal(t, "expired", first["status"])
}

// Scenario bonus: the significance boundary is enforced at the dispatcher.
func TestSignificanceBoundary(t *testing.T) {
	s := newStack(t, nil)

	for i, sig := range []float64{0, 1} {
		args := handoffArgs(fmt.Sprintf("edge-%d", i), "boundary")
		args["significance"] = sig
		_, rpcErr := s.call(t, tokenA, "create_handoff", args)
		assert.Nil(t, rpcErr, "significance %v is valid", sig)
	}
	for i, sig := range []float64{-0.001, 1.001} {
		args := handoffArgs(fmt.Sprintf("bad-%d", i), "boundary")
		args["significance"] = sig
		_, rpcErr := s.call(t, tokenA, "create_handoff", args)
		require.NotNil(t, rpcErr, "significance %v is invalid", sig)
		assert.Equal(t, mcp.CodeInvalidParams, rpcErr.Code)
	}
}
