package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guillefidelio/reviewpilot/pkg/generate"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
	"github.com/guillefidelio/reviewpilot/pkg/review"
)

const testToken = "test-token"

func startRelay(t *testing.T, handler GenerateFunc) (addr string, calls *int64) {
	t.Helper()

	calls = new(int64)
	log, _ := logging.NewLogger("relay-test")
	server := NewServer("unused", testToken, func(ctx context.Context, req *generate.Request) *generate.Result {
		atomic.AddInt64(calls, 1)
		return handler(ctx, req)
	}, log)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return strings.TrimPrefix(ts.URL, "http://"), calls
}

func connectClient(t *testing.T, addr, token string) *Client {
	t.Helper()
	log, _ := logging.NewLogger("relay-test")
	client := NewClient(addr, token, Hello{
		FrameURL: "https://business.google.com/reviews/reply",
	}, log)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func okHandler(_ context.Context, req *generate.Request) *generate.Result {
	return &generate.Result{Success: true, AIResponse: "generated for " + req.InputKey}
}

func TestPingIsIdempotent(t *testing.T) {
	addr, _ := startRelay(t, okHandler)
	client := connectClient(t, addr, testToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Repeated pings are harmless; each gets its own pong.
	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Ping(ctx))
}

func TestRelayedGenerationRoundTrip(t *testing.T) {
	addr, calls := startRelay(t, okHandler)
	client := connectClient(t, addr, testToken)
	gen := NewGenerator(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := gen.Generate(ctx, &generate.Request{
		Review:   review.Context{ReviewerName: "Maria", Rating: 5, Text: "Great!"},
		InputKey: "r-1",
		Source:   generate.SourceDirect, // generator retagging makes this relayed
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "generated for r-1", result.AIResponse)
	assert.EqualValues(t, 1, atomic.LoadInt64(calls))
}

func TestServerRefusesNonRelayedRequests(t *testing.T) {
	addr, calls := startRelay(t, okHandler)
	client := connectClient(t, addr, testToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := NewEnvelope(TypeGenerate, generate.SourceDirect, &generate.Request{
		InputKey: "r-1",
		Source:   generate.SourceDirect,
	})
	require.NoError(t, err)

	resp, err := client.Request(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, TypeError, resp.Type)
	assert.EqualValues(t, 0, atomic.LoadInt64(calls), "handler must not run for direct requests")
}

func TestDuplicateRequestIDReplaysCachedResponse(t *testing.T) {
	addr, calls := startRelay(t, okHandler)
	client := connectClient(t, addr, testToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := NewEnvelope(TypeGenerate, generate.SourceRelayed, &generate.Request{
		InputKey: "r-1",
		Source:   generate.SourceRelayed,
	})
	require.NoError(t, err)

	first, err := client.Request(ctx, env)
	require.NoError(t, err)
	require.Equal(t, TypeResult, first.Type)

	// A redelivered envelope with the same request ID replays the cached
	// result without running the generation again.
	second, err := client.Request(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, TypeResult, second.Type)
	assert.JSONEq(t, string(first.Data), string(second.Data))
	assert.EqualValues(t, 1, atomic.LoadInt64(calls))
}

func TestConcurrentDuplicateRunsHandlerOnce(t *testing.T) {
	release := make(chan struct{})
	addr, calls := startRelay(t, func(_ context.Context, _ *generate.Request) *generate.Result {
		<-release
		return &generate.Result{Success: true, AIResponse: "only once"}
	})
	first := connectClient(t, addr, testToken)
	second := connectClient(t, addr, testToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := NewEnvelope(TypeGenerate, generate.SourceRelayed, &generate.Request{
		InputKey: "r-1",
		Source:   generate.SourceRelayed,
	})
	require.NoError(t, err)

	type outcome struct {
		resp *Envelope
		err  error
	}
	results := make(chan outcome, 2)
	for _, client := range []*Client{first, second} {
		client := client
		go func() {
			resp, err := client.Request(ctx, env)
			results <- outcome{resp, err}
		}()
	}

	// Let both copies of the envelope reach the server before the
	// generation is allowed to finish.
	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		require.Equal(t, TypeResult, res.resp.Type)
		assert.Contains(t, string(res.resp.Data), "only once")
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(calls),
		"racing duplicates must not run the generation twice")
}

func TestMalformedGenerateYieldsErrorEnvelope(t *testing.T) {
	addr, _ := startRelay(t, okHandler)
	client := connectClient(t, addr, testToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := NewEnvelope(TypeGenerate, generate.SourceRelayed, nil)
	require.NoError(t, err)

	resp, err := client.Request(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, TypeError, resp.Type)
}

func TestConnectRejectsBadToken(t *testing.T) {
	addr, _ := startRelay(t, okHandler)

	log, _ := logging.NewLogger("relay-test")
	client := NewClient(addr, "wrong-token", Hello{}, log)
	assert.Error(t, client.Connect(context.Background()))
}

func TestGeneratorMapsRelayFailureToNetworkClass(t *testing.T) {
	log, _ := logging.NewLogger("relay-test")
	// Nothing is listening on this address.
	client := NewClient("127.0.0.1:1", testToken, Hello{}, log)
	gen := NewGenerator(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := gen.Generate(ctx, &generate.Request{InputKey: "r-1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, generate.ClassNetwork, result.ErrorClass)
}

func TestEnvelopeRecognized(t *testing.T) {
	assert.True(t, (&Envelope{Type: TypePing}).Recognized())
	assert.True(t, (&Envelope{Type: TypePrefix + "custom"}).Recognized())
	assert.False(t, (&Envelope{Type: "other:ping"}).Recognized())
	assert.False(t, (&Envelope{Type: ""}).Recognized())
}
