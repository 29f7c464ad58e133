package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/copilot"
	"github.com/xhad/hrcopilot/pkg/llm"
	"github.com/xhad/hrcopilot/pkg/metrics"
	"github.com/xhad/hrcopilot/pkg/session"
	"github.com/xhad/hrcopilot/pkg/tools"
	"github.com/xhad/hrcopilot/server"
)

type stubRetriever struct {
	chunks []string
	err    error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.chunks) {
		return s.chunks[:k], nil
	}
	return s.chunks, nil
}

type scriptedModel struct {
	tokens    []string
	failAfter error
}

func (m *scriptedModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := &llms.CallOptions{}
	for _, o := range options {
		o(opts)
	}
	for _, tok := range m.tokens {
		if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
			return nil, err
		}
	}
	if m.failAfter != nil {
		return nil, m.failAfter
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.tokens, "")}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fixture struct {
	srv       *httptest.Server
	model     *scriptedModel
	retriever *stubRetriever
	sessions  *session.MemoryStore
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		model:     &scriptedModel{tokens: []string{"Tienes ", "23 días ", "laborables."}},
		retriever: &stubRetriever{chunks: []string{"Cada empleado dispone de 23 días laborables de vacaciones."}},
		sessions:  session.NewMemoryStore(),
		metrics:   metrics.New(),
	}
	engine, err := llm.NewWithModel(f.model, llm.ChatConfig{Model: "scripted"})
	require.NoError(t, err)

	svc := copilot.New(f.retriever, engine, f.sessions, copilot.Config{}, copilot.WithMetrics(f.metrics))
	vacation := tools.NewVacationRequester()
	vacation.Now = func() time.Time { return time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) }
	registry := tools.NewRegistry(tools.Calculator{}, vacation, tools.NewKnowledgeBase(f.retriever))

	s := server.New(svc, registry, f.metrics, server.Config{})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func decodeError(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestAsk_StreamsAndRecordsSession(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/ask", map[string]string{"query": "¿Cuántos días de vacaciones tengo?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Equal(t, "Tienes 23 días laborables.", readAll(t, resp))
	assert.Empty(t, resp.Trailer.Get(server.StreamErrorTrailer))

	id := resp.Header.Get(server.SessionHeader)
	require.NotEmpty(t, id)

	get, err := http.Get(f.srv.URL + "/sessions/" + id)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	var sess models.Session
	require.NoError(t, json.NewDecoder(get.Body).Decode(&sess))
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "¿Cuántos días de vacaciones tengo?"},
		{Role: models.RoleAssistant, Content: "Tienes 23 días laborables."},
	}, sess.History)

	// continuing the session keeps the id
	again := f.post(t, "/ask", map[string]string{"query": "¿Y los festivos?", "session_id": id})
	require.Equal(t, http.StatusOK, again.StatusCode)
	readAll(t, again)
	assert.Equal(t, id, again.Header.Get(server.SessionHeader))

	stored, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, stored.History, 4)
}

func TestAsk_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      interface{}
		retrieval error
		status    int
		kind      string
	}{
		{"empty query", map[string]string{"query": "  "}, nil, http.StatusBadRequest, "invalid_configuration"},
		{"malformed body", "not an object", nil, http.StatusBadRequest, "invalid_configuration"},
		{"unknown session", map[string]string{"query": "hola", "session_id": "nope"}, nil, http.StatusNotFound, "session_not_found"},
		{"embedding down", map[string]string{"query": "hola"}, fmt.Errorf("%w: refused", types.ErrEmbeddingUnavailable), http.StatusServiceUnavailable, "embedding_unavailable"},
		{"store broken", map[string]string{"query": "hola"}, fmt.Errorf("%w: 768 != 4", types.ErrDimensionMismatch), http.StatusInternalServerError, "dimension_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.retriever.err = tt.retrieval

			resp := f.post(t, "/ask", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.kind, body["error"])
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestAsk_MidStreamFailureUsesTrailer(t *testing.T) {
	f := newFixture(t)
	f.model.failAfter = fmt.Errorf("connection reset")

	resp := f.post(t, "/ask", map[string]string{"query": "¿Cuántos días?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tienes 23 días laborables.", readAll(t, resp))
	assert.Equal(t, "generation_unavailable", resp.Trailer.Get(server.StreamErrorTrailer))

	sess, err := f.sessions.Get(context.Background(), resp.Header.Get(server.SessionHeader))
	require.NoError(t, err)
	assert.Empty(t, sess.History)
}

func TestAsk_Stateless(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/ask", map[string]interface{}{
		"query":     "¿Y los festivos?",
		"stateless": true,
		"history": []models.Turn{
			{Role: "user", Content: "¿Cuántos días de vacaciones tengo?"},
			{Role: "assistant", Content: "23."},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tienes 23 días laborables.", readAll(t, resp))
	assert.Empty(t, resp.Header.Get(server.SessionHeader))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.SessionsCreated))

	conflict := f.post(t, "/ask", map[string]interface{}{"query": "hola", "stateless": true, "session_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, conflict.StatusCode)
}

func TestSessions_NotFound(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/sessions/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session_not_found", decodeError(t, resp)["error"])
}

func TestTools(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		input  interface{}
		status string
		check  func(t *testing.T, result map[string]interface{})
	}{
		{
			name: "calculator", tool: "calculator", input: "2 + 3 * 4", status: tools.StatusSuccess,
			check: func(t *testing.T, result map[string]interface{}) {
				assert.Equal(t, float64(14), result["result"])
			},
		},
		{
			name: "calculator rejects code", tool: "calculator", input: "__import__('os')", status: tools.StatusError,
			check: func(t *testing.T, result map[string]interface{}) {
				assert.NotEmpty(t, result["error_message"])
			},
		},
		{
			name: "vacation object", tool: "vacation_request",
			input:  map[string]interface{}{"start": "el próximo lunes", "days": 5, "reason": "boda"},
			status: tools.StatusSuccess,
			check: func(t *testing.T, result map[string]interface{}) {
				assert.Equal(t, "2026-03-09", result["start_date"])
				assert.Equal(t, "2026-03-13", result["end_date"])
			},
		},
		{
			name: "knowledge base", tool: "search_knowledge_base", input: "vacaciones", status: tools.StatusSuccess,
			check: func(t *testing.T, result map[string]interface{}) {
				assert.Equal(t, []interface{}{"Cada empleado dispone de 23 días laborables de vacaciones."}, result["result"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp := f.post(t, "/tools/"+tt.tool, map[string]interface{}{"input": tt.input})
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var result map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
			assert.Equal(t, tt.status, result["status"])
			tt.check(t, result)

			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ToolCalls.WithLabelValues(tt.tool, tt.status)))
		})
	}
}

func TestTools_Unknown(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/tools/shell", map[string]string{"input": "ls"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "invalid_configuration", decodeError(t, resp)["error"])
}

// dial opens a websocket and returns a function that sends one question and
// collects frames up to done or error.
func (f *fixture) dial(t *testing.T) func(server.Message) []server.Message {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return func(msg server.Message) []server.Message {
		msg.Type = server.MessageAsk
		require.NoError(t, conn.WriteJSON(msg))
		var frames []server.Message
		for {
			var frame server.Message
			require.NoError(t, conn.ReadJSON(&frame))
			frames = append(frames, frame)
			if frame.Type == server.MessageDone || frame.Type == server.MessageError {
				return frames
			}
		}
	}
}

func TestWebSocket_Conversation(t *testing.T) {
	f := newFixture(t)
	send := f.dial(t)
	ask := func(q string) []server.Message { return send(server.Message{Content: q}) }

	first := ask("¿Cuántos días de vacaciones tengo?")
	require.Len(t, first, 5)
	assert.Equal(t, server.MessageSession, first[0].Type)
	id := first[0].Content
	var answer string
	for _, m := range first[1:4] {
		assert.Equal(t, server.MessageStream, m.Type)
		answer += m.Content
	}
	assert.Equal(t, "Tienes 23 días laborables.", answer)
	assert.Equal(t, server.MessageDone, first[4].Type)

	// the connection keeps its session, so no new session frame
	second := ask("¿Y los festivos?")
	require.Len(t, second, 4)
	assert.Equal(t, server.MessageStream, second[0].Type)

	sess, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, sess.History, 4)

	empty := ask("   ")
	require.Len(t, empty, 1)
	assert.Equal(t, server.MessageError, empty[0].Type)
}

func TestWebSocket_UnknownSessionDoesNotStick(t *testing.T) {
	f := newFixture(t)
	send := f.dial(t)

	bogus := send(server.Message{Content: "¿Y los festivos?", SessionID: "bogus"})
	require.Len(t, bogus, 1)
	assert.Equal(t, server.MessageError, bogus[0].Type)
	assert.Contains(t, bogus[0].Content, "session_not_found")

	// the next question without an id starts a fresh session
	next := send(server.Message{Content: "¿Cuántos días de vacaciones tengo?"})
	require.Len(t, next, 5)
	assert.Equal(t, server.MessageSession, next[0].Type)
	assert.Equal(t, server.MessageDone, next[4].Type)

	sess, err := f.sessions.Get(context.Background(), next[0].Content)
	require.NoError(t, err)
	assert.Len(t, sess.History, 2)

	// a bad id after a good one leaves the connection on the good session
	bogus = send(server.Message{Content: "otra", SessionID: "bogus"})
	require.Len(t, bogus, 1)
	assert.Equal(t, server.MessageError, bogus[0].Type)

	again := send(server.Message{Content: "¿Y los festivos?"})
	require.Len(t, again, 4)
	assert.Equal(t, server.MessageStream, again[0].Type)

	sess, err = f.sessions.Get(context.Background(), next[0].Content)
	require.NoError(t, err)
	assert.Len(t, sess.History, 4)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readAll(t, resp))
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, readAll(t, resp), `hrcopilot_requests_total{endpoint="/healthz",outcome="ok"} 1`)
}
