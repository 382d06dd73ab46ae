package wal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/engram-memory/engram/pkg/mcp"
)

// compactEvery is how many settled operations accumulate before the journal
// is rewritten.
const compactEvery = 64

// Client wraps the MCP endpoint with write-ahead durability. Mutating calls
// go through Call: journaled first, sent second, settled third. Reads go
// through Do and never touch the journal.
type Client struct {
	log        *Log
	endpoint   string
	token      string
	httpClient *http.Client

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	reqID   atomic.Int64
	settled atomic.Int64
}

// NewClient opens the journal under baseDir and targets the given MCP
// endpoint (e.g. "http://localhost:8920/mcp").
func NewClient(baseDir, endpoint, token string) (*Client, error) {
	log, err := Open(baseDir)
	if err != nil {
		return nil, err
	}
	return &Client{
		log:        log,
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Close closes the journal.
func (c *Client) Close() error {
	return c.log.Close()
}

// NewOpID mints a ULID. Within one client, later operations sort after
// earlier ones, which is what replay ordering relies on.
func (c *Client) NewOpID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

// Pending reports the number of journaled operations not yet settled.
func (c *Client) Pending() int {
	pending, err := c.log.LoadPending()
	if err != nil {
		slog.Warn("Failed to read WAL backlog", "error", err)
		return 0
	}
	return len(pending)
}

// Call performs a mutating tool call with write-ahead durability. The op_id
// is assigned here and injected into the arguments; a definitive server
// answer (success or a permanent application error) settles the record, and
// transport failures or retriable errors leave it for replay.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	opID := c.NewOpID()
	args["op_id"] = opID

	rec := &Record{
		OpID:       opID,
		Kind:       RecordKindOp,
		ToolName:   tool,
		Arguments:  args,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := c.log.Append(rec); err != nil {
		return nil, err
	}

	result, rpcErr, err := c.send(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("call journaled but not delivered (op %s): %w", opID, err)
	}
	if rpcErr != nil {
		if retriable(rpcErr.Code) {
			return nil, fmt.Errorf("call journaled, server busy (op %s): %w", opID, rpcErr)
		}
		c.settle(opID)
		return nil, rpcErr
	}
	c.settle(opID)
	return result, nil
}

// Do performs a read-only tool call. Nothing is journaled.
func (c *Client) Do(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	result, rpcErr, err := c.send(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

// Replay resends the unsettled backlog in ascending op_id order. The server
// idempotency table absorbs operations that actually landed the first time.
// Replay stops at the first transport failure so ordering is preserved.
func (c *Client) Replay(ctx context.Context) (int, error) {
	pending, err := c.log.LoadPending()
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, rec := range pending {
		_, rpcErr, err := c.send(ctx, rec.ToolName, rec.Arguments)
		if err != nil {
			return replayed, fmt.Errorf("replay stalled at op %s: %w", rec.OpID, err)
		}
		if rpcErr != nil && retriable(rpcErr.Code) {
			return replayed, fmt.Errorf("replay stalled at op %s: %w", rec.OpID, rpcErr)
		}
		// A permanent application error settles the record too: resending
		// the same payload can never succeed.
		if rpcErr != nil {
			slog.Warn("Replayed operation rejected", "op_id", rec.OpID, "tool", rec.ToolName, "code", rpcErr.Code)
		}
		c.settle(rec.OpID)
		replayed++
	}
	return replayed, nil
}

// WakeUp replays any backlog, then fetches the wake bundle and annotates it
// with the remaining backlog size.
func (c *Client) WakeUp(ctx context.Context, args map[string]any) (map[string]any, error) {
	if pending := c.Pending(); pending > 0 {
		if n, err := c.Replay(ctx); err != nil {
			slog.Warn("WAL replay incomplete", "replayed", n, "error", err)
		}
	}
	raw, err := c.Do(ctx, "wake_up", args)
	if err != nil {
		return nil, err
	}
	bundle := map[string]any{}
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("malformed wake bundle: %w", err)
	}
	bundle["wal_pending"] = c.Pending()
	return bundle, nil
}

func (c *Client) settle(opID string) {
	if err := c.log.Tombstone(opID); err != nil {
		slog.Warn("Failed to settle WAL record", "op_id", opID, "error", err)
		return
	}
	if c.settled.Add(1)%compactEvery == 0 {
		if err := c.log.Compact(); err != nil {
			slog.Warn("WAL compaction failed", "error", err)
		}
	}
}

func retriable(code int) bool {
	return code == mcp.CodeTemporaryUnavailable || code == mcp.CodeDeadlineExceeded
}

// send posts one tools/call request. The error return covers transport-level
// failures (network, timeout, non-200) only; server answers come back as
// result or RPC error.
func (c *Client) send(ctx context.Context, tool string, args map[string]any) (json.RawMessage, *mcp.RPCError, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.reqID.Add(1),
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("server answered HTTP %d", res.StatusCode)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, err
	}
	var rpc struct {
		Result json.RawMessage `json:"result"`
		Error  *mcp.RPCError   `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return nil, nil, fmt.Errorf("malformed response: %w", err)
	}
	if rpc.Error != nil {
		return nil, rpc.Error, nil
	}
	return rpc.Result, nil, nil
}
