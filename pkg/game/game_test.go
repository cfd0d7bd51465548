package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/audio"
	"github.com/tecu23/eng-client/pkg/channel"
	"github.com/tecu23/eng-client/pkg/chess"
	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/messages"
	"github.com/tecu23/eng-client/pkg/session"
)

const (
	wait    = 2 * time.Second
	poll    = 5 * time.Millisecond
	afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
)

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]channel.Handler
	sent     chan messages.Outbound
	sendErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]channel.Handler),
		sent:     make(chan messages.Outbound, 64),
	}
}

func (f *fakeTransport) Subscribe(topic string, h channel.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[topic] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, topic)
	}
}

func (f *fakeTransport) Send(out messages.Outbound) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	f.sent <- out
	return nil
}

func (f *fakeTransport) topics() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeTransport) deliver(t *testing.T, topic, typ string, seq *int64, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	require.True(t, ok, "no handler for %s", topic)

	h(messages.Envelope{Type: typ, Topic: topic, Sequence: seq, Payload: data})
}

func (f *fakeTransport) expect(t *testing.T, typ string) messages.Outbound {
	t.Helper()

	select {
	case out := <-f.sent:
		require.Equal(t, typ, out.Type)
		return out
	case <-time.After(wait):
		t.Fatalf("%s not sent", typ)
		return messages.Outbound{}
	}
}

func (f *fakeTransport) expectNothing(t *testing.T) {
	t.Helper()

	select {
	case out := <-f.sent:
		t.Fatalf("unexpected %s", out.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingSounder struct {
	mu   sync.Mutex
	cues []audio.Cue
}

func (r *recordingSounder) Play(cue audio.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, cue)
}

func (r *recordingSounder) played() []audio.Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Cue(nil), r.cues...)
}

type harness struct {
	transport *fakeTransport
	publisher *events.Publisher
	sounder   *recordingSounder
	clock     *clockwork.FakeClock
	manager   *Manager
	ctrl      *Controller
	gameID    string
	notices   chan string
}

func newHarness(t *testing.T, side chess.Side) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		publisher: events.NewPublisher(),
		sounder:   &recordingSounder{},
		clock:     clockwork.NewFakeClock(),
		notices:   make(chan string, 32),
	}
	h.publisher.Subscribe(events.EventNotice, func(e events.Event) {
		h.notices <- e.Payload.(events.NoticePayload).Text
	})
	h.manager = NewManager(h.transport, h.publisher, h.sounder, Settings{}, h.clock, zap.NewNop())

	id := uuid.New()
	ctrl, err := h.manager.Join(context.Background(), id, JoinOptions{LocalSide: side})
	require.NoError(t, err)
	h.ctrl = ctrl
	h.gameID = id.String()
	t.Cleanup(func() { _ = h.manager.Shutdown() })

	h.transport.expect(t, messages.TypeRequestResync)
	return h
}

func (h *harness) snapshot(t *testing.T, fen string, clocks chess.Clocks, seq int64) {
	t.Helper()

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeResync, nil, messages.Resync{
		Snapshot: messages.Snapshot{FEN: fen, MoveHistory: []string{}, Clocks: clocks, Sequence: seq},
	})
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Status == session.StatusLive
	}, wait, poll)
}

func (h *harness) notice(t *testing.T) string {
	t.Helper()

	select {
	case text := <-h.notices:
		return text
	case <-time.After(wait):
		t.Fatal("no notice published")
		return ""
	}
}

func seq(n int64) *int64 { return &n }

func TestMoveThenResignationScenario(t *testing.T) {
	h := newHarness(t, chess.Black)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 600, Black: 600}, 0)

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeMoveApplied, seq(1), messages.MoveApplied{
		FromFEN: chess.StartFEN,
		ToFEN:   afterE4,
		SAN:     "e4",
	})
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().PositionFEN == afterE4
	}, wait, poll)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, chess.NoResult, snap.Result)
	assert.Equal(t, chess.Black, snap.ActivePlayer())
	assert.Equal(t, []string{"e4"}, snap.MoveHistory)

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeGameEnded, nil, messages.GameEnded{
		Result: chess.WhiteWins,
		Reason: "resignation",
	})
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Result == chess.WhiteWins
	}, wait, poll)
	assert.Contains(t, h.notice(t), "resignation")

	frozen := h.ctrl.Snapshot().Clocks
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
	}
	require.NoError(t, h.ctrl.Flip()) // a round trip through the loop
	assert.Equal(t, frozen, h.ctrl.Snapshot().Clocks)

	err := h.ctrl.AttemptMove("e7", "e5", "")
	var violation *TerminalSessionViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, chess.WhiteWins, violation.Result)
	assert.Contains(t, h.notice(t), "game is over")
	h.transport.expectNothing(t)

	assert.Contains(t, h.sounder.played(), audio.CueLose)
}

func TestAuthoritativeClockScenario(t *testing.T) {
	h := newHarness(t, chess.White)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 600, Black: 600}, 0)

	tick := func(want int64) {
		h.clock.Advance(time.Second)
		require.Eventually(t, func() bool {
			return h.ctrl.Snapshot().Clocks.White == want
		}, wait, poll)
	}

	for want := int64(599); want >= 596; want-- {
		tick(want)
	}

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeClockSync, seq(1), map[string]int64{"white": 595, "black": 600})
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Clocks.White == 595
	}, wait, poll)
	tick(594)

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeClockSync, seq(2), map[string]int64{"white": 590, "black": 600})
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Clocks.White == 590
	}, wait, poll)
	assert.Equal(t, int64(600), h.ctrl.Snapshot().Clocks.Black)
}

func TestIntentsAreSent(t *testing.T) {
	h := newHarness(t, chess.White)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 60, Black: 60}, 0)

	require.NoError(t, h.ctrl.AttemptMove("e7", "e8", "Q"))
	out := h.transport.expect(t, messages.TypeAttemptMove)
	assert.Equal(t, messages.AttemptMovePayload{From: "e7", To: "e8", Promotion: "q"}, out.Payload)

	require.NoError(t, h.ctrl.OfferDraw())
	h.transport.expect(t, messages.TypeOfferDraw)

	assert.ErrorIs(t, h.ctrl.RespondDraw(true), ErrNoDrawOffer)

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeDrawOffered, nil, messages.DrawOffered{BySide: chess.Black})
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().DrawOffer == chess.Black
	}, wait, poll)
	require.NoError(t, h.ctrl.RespondDraw(false))
	h.transport.expect(t, messages.TypeRespondDraw)

	require.NoError(t, h.ctrl.SendChat("  good luck "))
	chat := h.transport.expect(t, messages.TypeChatSend)
	assert.Equal(t, messages.ChatSendPayload{Text: "good luck"}, chat.Payload)
	assert.ErrorIs(t, h.ctrl.SendChat(" "), ErrEmptyChat)

	assert.Error(t, h.ctrl.AttemptMove("z9", "e4", ""))

	require.NoError(t, h.ctrl.Resign())
	h.transport.expect(t, messages.TypeResign)
}

func TestSendWhileDisconnected(t *testing.T) {
	h := newHarness(t, chess.White)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 60, Black: 60}, 0)

	h.transport.mu.Lock()
	h.transport.sendErr = &channel.TransientNetworkError{Op: "send", Err: channel.ErrNotConnected}
	h.transport.mu.Unlock()

	err := h.ctrl.Resign()
	assert.ErrorIs(t, err, channel.ErrNotConnected)
	assert.Equal(t, "connection lost, reconnecting", h.notice(t))
}

func TestSpectatorCannotPlay(t *testing.T) {
	h := newHarness(t, "")

	assert.ErrorIs(t, h.ctrl.Resign(), ErrSpectator)
	require.NoError(t, h.ctrl.Flip())
	assert.Equal(t, chess.Black, h.ctrl.Snapshot().Orientation)
}

func TestChatIsLogged(t *testing.T) {
	h := newHarness(t, chess.White)

	received := make(chan events.Event, 1)
	h.publisher.Subscribe(events.EventChatReceived, func(e events.Event) { received <- e })

	h.transport.deliver(t, messages.ChatTopic(h.gameID), messages.TypeChat, nil, messages.ChatMessage{From: "bob", Text: "hi"})

	require.Eventually(t, func() bool { return len(h.ctrl.Chat()) == 1 }, wait, poll)
	assert.Equal(t, "bob", h.ctrl.Chat()[0].From)

	select {
	case e := <-received:
		assert.Equal(t, h.gameID, e.GameID)
	case <-time.After(wait):
		t.Fatal("chat event not published")
	}
}

func TestBoardTopicMovesApply(t *testing.T) {
	h := newHarness(t, chess.White)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 60, Black: 60}, 0)

	h.transport.deliver(t, messages.BoardTopic(h.gameID), messages.TypeMoveApplied, seq(1), messages.MoveApplied{
		FromFEN: chess.StartFEN,
		SAN:     "e4",
	})
	require.Eventually(t, func() bool {
		return len(h.ctrl.Snapshot().MoveHistory) == 1
	}, wait, poll)

	p, err := chess.ParseFEN(h.ctrl.Snapshot().PositionFEN)
	require.NoError(t, err)
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR", p.Placement())
	assert.Contains(t, h.sounder.played(), audio.CueMove)
}

func TestReconnectRequestsResync(t *testing.T) {
	h := newHarness(t, chess.White)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 60, Black: 60}, 0)

	h.publisher.Publish(events.Event{Type: events.EventChannelOpened, Payload: events.OpenedPayload{Reconnect: true}})
	h.transport.expect(t, messages.TypeRequestResync)
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Status == session.StatusAwaitingResync
	}, wait, poll)
}

func TestGameInvalidTearsDown(t *testing.T) {
	h := newHarness(t, chess.White)

	h.transport.deliver(t, messages.GameTopic(h.gameID), messages.TypeGameInvalid, nil, messages.GameInvalid{Reason: "aborted"})

	select {
	case <-h.ctrl.Done():
	case <-time.After(wait):
		t.Fatal("session not torn down")
	}

	assert.ErrorIs(t, h.ctrl.Err(), ErrGameInvalid)
	assert.Zero(t, h.transport.topics())
	assert.ErrorIs(t, h.ctrl.Resign(), ErrLeft)
	require.Eventually(t, func() bool {
		_, ok := h.manager.Get(h.ctrl.ID)
		return !ok
	}, wait, poll)
}

func TestManagerLeave(t *testing.T) {
	h := newHarness(t, chess.White)

	again, err := h.manager.Join(context.Background(), h.ctrl.ID, JoinOptions{LocalSide: chess.White})
	require.NoError(t, err)
	assert.Same(t, h.ctrl, again)
	assert.Len(t, h.manager.Games(), 1)

	h.manager.Leave(h.ctrl.ID)

	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("Leave returned before the loop exited")
	}
	assert.Zero(t, h.transport.topics())
	assert.Equal(t, session.GameSession{}, h.ctrl.Snapshot())
	assert.NoError(t, h.ctrl.Err())

	_, ok := h.manager.Get(h.ctrl.ID)
	assert.False(t, ok)
	h.manager.Leave(h.ctrl.ID)
}

func TestJoinWithCancelledContext(t *testing.T) {
	m := NewManager(newFakeTransport(), nil, &recordingSounder{}, Settings{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Join(ctx, uuid.New(), JoinOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDroppedGameMessageRequestsResync(t *testing.T) {
	h := newHarness(t, chess.White)
	h.snapshot(t, chess.StartFEN, chess.Clocks{White: 600, Black: 600}, 0)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.ctrl.do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	payload, err := json.Marshal(messages.GameEnded{Result: chess.Draw, Reason: "agreement"})
	require.NoError(t, err)
	for i := 0; i <= inboxSize; i++ {
		h.ctrl.post(messages.Envelope{Type: messages.TypeGameEnded, Topic: messages.GameTopic(h.gameID), Payload: payload})
	}
	close(release)

	require.Eventually(t, func() bool {
		h.clock.Advance(maintenanceInterval)
		select {
		case out := <-h.transport.sent:
			return out.Type == messages.TypeRequestResync
		default:
			return false
		}
	}, wait, 10*time.Millisecond)
}
