// Package conductor is the REST side of the agent daemon: thread listing,
// message backfill, health probes, and prompt submission with a streamed
// SSE response body.
package conductor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/strandtui/strand/pkg/observability"
	"github.com/strandtui/strand/pkg/store"
	"github.com/strandtui/strand/pkg/wire"
)

const (
	defaultRequestTimeout = 10 * time.Second
	healthTimeout         = 2 * time.Second
	maxErrorBodyBytes     = 64 << 10
)

// ErrStreamInterrupted means the SSE body ended before a completion event.
var ErrStreamInterrupted = errors.New("conductor: stream ended before completion")

// Client talks to the daemon's REST surface.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// Streaming responses stay open for the life of a prompt; no timeout.
	streamClient *http.Client
	log          *observability.Logger
}

// NewClient builds a Client for host ("127.0.0.1:8787") with optional TLS and
// bearer token.
func NewClient(host, token string, tls bool) *Client {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return &Client{
		baseURL:      scheme + "://" + host,
		token:        token,
		httpClient:   &http.Client{Timeout: defaultRequestTimeout},
		streamClient: &http.Client{},
		log:          observability.NewLogger("conductor"),
	}
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload errorEnvelope
	if err := json.Unmarshal(data, &payload); err == nil {
		msg := strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Error)
		}
		if msg != "" {
			return fmt.Errorf("conductor: %s: %s", resp.Status, msg)
		}
	}
	return fmt.Errorf("conductor: unexpected status %s", resp.Status)
}

// ListThreads fetches the server's thread list, newest first.
func (c *Client) ListThreads(ctx context.Context) ([]store.Thread, error) {
	ctx, span := observability.StartSpan(ctx, "conductor.ListThreads",
		trace.WithAttributes(observability.AttrEndpoint.String("/api/threads")))
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/threads", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordError(ctx, err)
		return nil, fmt.Errorf("conductor: list threads: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		observability.RecordError(ctx, err)
		return nil, err
	}

	var payload struct {
		Threads []store.Thread `json:"threads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("conductor: decode thread list: %w", err)
	}
	return payload.Threads, nil
}

// FetchMessages fetches the full message history of one thread.
func (c *Client) FetchMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	ctx, span := observability.StartSpan(ctx, "conductor.FetchMessages",
		trace.WithAttributes(observability.AttrThreadID.String(threadID)))
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(threadID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordError(ctx, err)
		return nil, fmt.Errorf("conductor: fetch messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		observability.RecordError(ctx, err)
		return nil, err
	}

	var payload struct {
		Messages []store.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("conductor: decode messages: %w", err)
	}
	return payload.Messages, nil
}

// Health probes the daemon's liveness endpoint.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// EventSink receives the decoded events of one stream in arrival order.
type EventSink interface {
	Apply(threadID string, ev wire.Event)
}

// Stream submits a prompt and pumps the SSE response through the sink until
// the server closes the body. Decode failures skip the frame and keep
// reading. Returns ErrStreamInterrupted when the body ends without a
// completion event.
func (c *Client) Stream(ctx context.Context, streamReq store.StreamRequest, threadID string, sink EventSink) error {
	ctx, span := observability.StartSpan(ctx, "conductor.Stream",
		trace.WithAttributes(
			observability.AttrThreadID.String(threadID),
			observability.AttrSessionID.String(streamReq.SessionID),
		))
	defer span.End()

	body, err := json.Marshal(streamReq)
	if err != nil {
		return fmt.Errorf("conductor: encode stream request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		observability.RecordError(ctx, err)
		return fmt.Errorf("conductor: open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		observability.RecordError(ctx, err)
		return err
	}

	assembler := wire.NewAssembler()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	completed := false
	for scanner.Scan() {
		ev, err := assembler.Feed(scanner.Text())
		if err != nil {
			observability.DecodeFailures.WithLabelValues("sse").Inc()
			c.log.DecodeFailed("sse", scanner.Text(), err)
			continue
		}
		if ev == nil {
			continue
		}
		switch ev.(type) {
		case wire.Done, wire.MessageInfo, wire.StreamError, wire.Cancelled:
			completed = true
		}
		sink.Apply(threadID, ev)
	}
	if err := scanner.Err(); err != nil {
		observability.RecordError(ctx, err)
		return fmt.Errorf("conductor: read stream: %w", err)
	}
	if !completed {
		return ErrStreamInterrupted
	}
	return nil
}
