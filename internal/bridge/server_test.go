package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/actorctl/internal/actor"
	"github.com/danmuck/actorctl/internal/chain"
	"github.com/danmuck/actorctl/internal/testutil/testlog"
	"github.com/danmuck/actorctl/internal/value"
	"github.com/danmuck/actorctl/internal/wasm"
)

type fakeMailbox struct {
	sends   atomic.Int64
	regular func(actor.Regular)
	http    func(actor.HTTP)
	sendErr error
}

func (f *fakeMailbox) Send(ctx context.Context, msg actor.Message) error {
	f.sends.Add(1)
	if f.sendErr != nil {
		return f.sendErr
	}
	switch m := msg.(type) {
	case actor.Regular:
		if f.regular != nil {
			f.regular(m)
		}
	case actor.HTTP:
		if f.http != nil {
			f.http(m)
		}
	}
	return nil
}

func (f *fakeMailbox) Stats() actor.Stats {
	return actor.Stats{Name: "test", StartedAt: time.Now()}
}

type fakeComponent struct {
	httpCapable  bool
	contracts    map[string]value.Value
	contractsErr error
}

func (f *fakeComponent) SupportsHTTP() bool {
	return f.httpCapable
}

func (f *fakeComponent) Contracts(ctx context.Context) (map[string]value.Value, error) {
	return f.contracts, f.contractsErr
}

func newTestServer(t *testing.T, mailbox Mailbox, component Component, emitter *chain.Emitter) *Server {
	t.Helper()
	testlog.Start(t)
	if emitter == nil {
		emitter = chain.New(chain.DefaultCapacity, zerolog.Nop())
	}
	return New(Config{
		ActorName: "test",
		Mailbox:   mailbox,
		Component: component,
		Chain:     emitter,
		Logger:    zerolog.Nop(),
	})
}

func TestMessageEndpointCouplesReply(t *testing.T) {
	mailbox := &fakeMailbox{
		regular: func(m actor.Regular) {
			m.Response <- actor.Result{Output: map[string]any{"count": float64(1)}}
		},
	}
	srv := newTestServer(t, mailbox, &fakeComponent{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"inc"}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	out, err := value.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !value.Equal(out, map[string]any{"count": float64(1)}) {
		t.Fatalf("output = %v", out)
	}
}

func TestMessageEndpointRejectsMalformedBody(t *testing.T) {
	mailbox := &fakeMailbox{}
	srv := newTestServer(t, mailbox, &fakeComponent{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if n := mailbox.sends.Load(); n != 0 {
		t.Fatalf("mailbox saw %d sends, want 0", n)
	}
}

func TestMessageEndpointReportsActorFailure(t *testing.T) {
	mailbox := &fakeMailbox{
		regular: func(m actor.Regular) {
			m.Response <- actor.Result{Err: errors.New("sandbox trapped")}
		},
	}
	srv := newTestServer(t, mailbox, &fakeComponent{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"inc"}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestMessageEndpointReportsEnqueueFailure(t *testing.T) {
	mailbox := &fakeMailbox{sendErr: actor.ErrShuttingDown}
	srv := newTestServer(t, mailbox, &fakeComponent{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x":1}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestBaseActorRejectsNonPostWithoutEnqueue(t *testing.T) {
	mailbox := &fakeMailbox{}
	srv := newTestServer(t, mailbox, &fakeComponent{httpCapable: false}, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/some/path", nil)
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s status = %d, want 405", method, rec.Code)
		}
	}
	if n := mailbox.sends.Load(); n != 0 {
		t.Fatalf("mailbox saw %d sends, want 0", n)
	}
}

func TestBaseActorUnknownPostPathIs404(t *testing.T) {
	mailbox := &fakeMailbox{}
	srv := newTestServer(t, mailbox, &fakeComponent{httpCapable: false}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/some/path", strings.NewReader(`{}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if n := mailbox.sends.Load(); n != 0 {
		t.Fatalf("mailbox saw %d sends, want 0", n)
	}
}

func TestHTTPActorRequestIsForwarded(t *testing.T) {
	var got wasm.HTTPRequest
	mailbox := &fakeMailbox{
		http: func(m actor.HTTP) {
			got = m.Request
			m.Response <- actor.HTTPResult{Response: wasm.HTTPResponse{
				Status: http.StatusCreated,
				Headers: wasm.HeaderFields{Fields: [][2]string{
					{"Content-Type", "application/json"},
				}},
				Body: value.Bytes(`{"ok":true}`),
			}}
		},
	}
	srv := newTestServer(t, mailbox, &fakeComponent{httpCapable: true}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/widgets/7?full=1", strings.NewReader(`{"name":"w"}`))
	req.Header.Set("X-Trace", "abc")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if got.Method != http.MethodPut {
		t.Fatalf("forwarded method = %q", got.Method)
	}
	if got.URI != "/widgets/7?full=1" {
		t.Fatalf("forwarded uri = %q", got.URI)
	}
	if string(got.Body) != `{"name":"w"}` {
		t.Fatalf("forwarded body = %q", string(got.Body))
	}
	found := false
	for _, pair := range got.Headers.Pairs() {
		if pair[0] == "X-Trace" && pair[1] == "abc" {
			found = true
		}
	}
	if !found {
		t.Fatalf("X-Trace header missing from %v", got.Headers.Pairs())
	}
}

func TestHTTPActorFailureIs500(t *testing.T) {
	mailbox := &fakeMailbox{
		http: func(m actor.HTTP) {
			m.Response <- actor.HTTPResult{Err: errors.New("sandbox trapped")}
		},
	}
	srv := newTestServer(t, mailbox, &fakeComponent{httpCapable: true}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealthReportsStats(t *testing.T) {
	srv := newTestServer(t, &fakeMailbox{}, &fakeComponent{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	out, err := value.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode health: %v", err)
	}
	doc, ok := out.(map[string]any)
	if !ok || doc["status"] != "ok" || doc["actor"] != "test" {
		t.Fatalf("health = %v", out)
	}
}

func TestChainHistoryEndpoint(t *testing.T) {
	emitter := chain.New(chain.DefaultCapacity, zerolog.Nop())
	emitter.Emit(chain.Event{Type: "actor-message", Data: map[string]any{"n": float64(1)}})
	emitter.Emit(chain.Noop())
	srv := newTestServer(t, &fakeMailbox{}, &fakeComponent{}, emitter)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chain", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	out, err := value.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode chain: %v", err)
	}
	doc := out.(map[string]any)
	if !value.Equal(doc["count"], 2) {
		t.Fatalf("count = %v, want 2", doc["count"])
	}
}

func TestContractsEndpoint(t *testing.T) {
	component := &fakeComponent{contracts: map[string]value.Value{
		"state":   map[string]any{"count": "number"},
		"message": map[string]any{"action": "string"},
	}}
	srv := newTestServer(t, &fakeMailbox{}, component, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	out, err := value.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode contracts: %v", err)
	}
	doc := out.(map[string]any)
	if _, ok := doc["state"]; !ok {
		t.Fatalf("contracts = %v", out)
	}
}

func TestContractsEndpointFailure(t *testing.T) {
	component := &fakeComponent{contractsErr: errors.New("sandbox trapped")}
	srv := newTestServer(t, &fakeMailbox{}, component, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestConfiguredCorsOriginIsAllowed(t *testing.T) {
	testlog.Start(t)
	srv := New(Config{
		ActorName:   "test",
		Mailbox:     &fakeMailbox{},
		Component:   &fakeComponent{},
		Chain:       chain.New(chain.DefaultCapacity, zerolog.Nop()),
		Logger:      zerolog.Nop(),
		CorsOrigins: []string{"http://ui.local"},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://ui.local")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.local" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.local")
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected Access-Control-Allow-Origin %q for unlisted origin", got)
	}
}

func TestHeaderFieldsOrdering(t *testing.T) {
	header := http.Header{}
	header.Add("B-Second", "2")
	header.Add("A-First", "1")
	header.Add("A-First", "1b")

	fields := headerFields(header).Pairs()
	want := [][2]string{{"A-First", "1"}, {"A-First", "1b"}, {"B-Second", "2"}}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("fields[%d] = %v, want %v", i, fields[i], want[i])
		}
	}
}
