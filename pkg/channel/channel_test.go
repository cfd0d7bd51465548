package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/internal/auth"
	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/messages"
)

const wait = 2 * time.Second

type fakeServer struct {
	ts       *httptest.Server
	conns    chan *websocket.Conn
	received chan messages.Outbound
	headers  chan http.Header
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	s := &fakeServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan messages.Outbound, 64),
		headers:  make(chan http.Header, 8),
	}

	upgrader := websocket.Upgrader{}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.headers <- r.Header
		s.conns <- ws

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var out messages.Outbound
			if err := json.Unmarshal(data, &out); err == nil {
				s.received <- out
			}
		}
	}))
	t.Cleanup(s.ts.Close)

	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *fakeServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case ws := <-s.conns:
		return ws
	case <-time.After(wait):
		t.Fatal("no connection")
		return nil
	}
}

func (s *fakeServer) expect(t *testing.T, typ, topic string) {
	t.Helper()

	select {
	case out := <-s.received:
		assert.Equal(t, typ, out.Type)
		assert.Equal(t, topic, out.Topic)
	case <-time.After(wait):
		t.Fatalf("expected %s %s", typ, topic)
	}
}

func (s *fakeServer) expectNothing(t *testing.T) {
	t.Helper()

	select {
	case out := <-s.received:
		t.Fatalf("unexpected %s %s", out.Type, out.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func push(t *testing.T, ws *websocket.Conn, env messages.Envelope) {
	t.Helper()

	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func testConfig(endpoint string) Config {
	cfg := DefaultConfig(endpoint, auth.Credentials{Token: "tok", PlayerID: "p1"})
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	return cfg
}

func collect(p *events.Publisher, t events.EventType) chan events.Event {
	ch := make(chan events.Event, 16)
	p.Subscribe(t, func(e events.Event) { ch <- e })
	return ch
}

func receive(t *testing.T, ch chan events.Event) events.Event {
	t.Helper()

	select {
	case e := <-ch:
		return e
	case <-time.After(wait):
		t.Fatal("event not published")
		return events.Event{}
	}
}

func TestDialSendsCredentials(t *testing.T) {
	srv := newFakeServer(t)

	c, err := Dial(context.Background(), testConfig(srv.url()), zap.NewNop(), nil)
	require.NoError(t, err)
	defer c.Close()

	h := <-srv.headers
	assert.Equal(t, "tok", h.Get(auth.HeaderAPIKey))
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.True(t, c.Connected())
}

func TestDialRequiresToken(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1")
	cfg.Credentials.Token = ""

	_, err := Dial(context.Background(), cfg, zap.NewNop(), nil)
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), testConfig("ws://127.0.0.1:1"), zap.NewNop(), nil)

	var transient *TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "dial", transient.Op)
}

func TestTopicMultiplexing(t *testing.T) {
	srv := newFakeServer(t)

	c, err := Dial(context.Background(), testConfig(srv.url()), zap.NewNop(), nil)
	require.NoError(t, err)
	defer c.Close()
	ws := srv.nextConn(t)

	game := make(chan messages.Envelope, 4)
	chat := make(chan messages.Envelope, 4)

	unsubA := c.Subscribe("game:g1", func(env messages.Envelope) { game <- env })
	srv.expect(t, messages.TypeSubscribe, "game:g1")

	unsubB := c.Subscribe("game:g1", func(messages.Envelope) { panic("broken handler") })
	srv.expectNothing(t)

	c.Subscribe("chat:g1", func(env messages.Envelope) { chat <- env })
	srv.expect(t, messages.TypeSubscribe, "chat:g1")

	push(t, ws, messages.Envelope{Type: messages.TypeChat, Topic: "chat:g1", Payload: json.RawMessage(`{"text":"hi"}`)})
	push(t, ws, messages.Envelope{Type: messages.TypeGameEnded, Topic: "game:g1", Payload: json.RawMessage(`{"result":"draw"}`)})
	push(t, ws, messages.Envelope{Type: messages.TypeChat, Topic: "board:g1"})

	select {
	case env := <-chat:
		assert.Equal(t, messages.TypeChat, env.Type)
	case <-time.After(wait):
		t.Fatal("chat handler not called")
	}

	select {
	case env := <-game:
		assert.Equal(t, messages.TypeGameEnded, env.Type)
	case <-time.After(wait):
		t.Fatal("game handler not called after a sibling panicked")
	}

	unsubB()
	srv.expectNothing(t)
	unsubA()
	srv.expect(t, messages.TypeUnsubscribe, "game:g1")
	assert.Equal(t, []string{"chat:g1"}, c.Topics())
}

func TestSendAfterCloseIsTransient(t *testing.T) {
	srv := newFakeServer(t)
	p := events.NewPublisher()
	closed := collect(p, events.EventChannelClosed)

	c, err := Dial(context.Background(), testConfig(srv.url()), zap.NewNop(), p)
	require.NoError(t, err)

	require.NoError(t, c.Send(messages.Resign("g1")))
	srv.expect(t, messages.TypeResign, "game:g1")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	receive(t, closed)

	err = c.Send(messages.Resign("g1"))
	var transient *TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReconnectResubscribes(t *testing.T) {
	srv := newFakeServer(t)
	p := events.NewPublisher()
	opened := collect(p, events.EventChannelOpened)
	errs := collect(p, events.EventChannelError)

	c, err := Dial(context.Background(), testConfig(srv.url()), zap.NewNop(), p)
	require.NoError(t, err)
	defer c.Close()

	first := receive(t, opened).Payload.(events.OpenedPayload)
	assert.False(t, first.Reconnect)

	ws := srv.nextConn(t)
	c.Subscribe("game:g1", func(messages.Envelope) {})
	srv.expect(t, messages.TypeSubscribe, "game:g1")

	require.NoError(t, ws.Close())

	e := receive(t, errs).Payload.(events.ErrorPayload)
	var transient *TransientNetworkError
	assert.ErrorAs(t, e.Err, &transient)

	again := receive(t, opened).Payload.(events.OpenedPayload)
	assert.True(t, again.Reconnect)
	assert.NotEqual(t, first.ConnectionID, again.ConnectionID)

	srv.nextConn(t)
	srv.expect(t, messages.TypeSubscribe, "game:g1")
	assert.Eventually(t, c.Connected, wait, 10*time.Millisecond)
}

func TestReconnectExhausted(t *testing.T) {
	srv := newFakeServer(t)
	p := events.NewPublisher()
	errs := collect(p, events.EventChannelError)

	c, err := Dial(context.Background(), testConfig(srv.url()), zap.NewNop(), p)
	require.NoError(t, err)
	defer c.Close()

	ws := srv.nextConn(t)
	srv.ts.Close()
	require.NoError(t, ws.Close())

	receive(t, errs) // the drop itself
	e := receive(t, errs).Payload.(events.ErrorPayload)
	assert.ErrorIs(t, e.Err, ErrReconnectExhausted)

	err = c.Send(messages.Resign("g1"))
	assert.ErrorIs(t, err, ErrClosed)
}
