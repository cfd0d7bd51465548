package messages

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Outbound message types
const (
	TypeAttemptMove   = "attempt-move"
	TypeResign        = "resign"
	TypeOfferDraw     = "offer-draw"
	TypeRespondDraw   = "respond-draw"
	TypeSubscribe     = "subscribe"
	TypeUnsubscribe   = "unsubscribe"
	TypeRequestResync = "request-resync"
	TypeChatSend      = "chat-send"
)

// Outbound is how we wrap intents before sending them to the server
type Outbound struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	GameID  string `json:"gameId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Marshal encodes the message for the socket
func (o Outbound) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// AttemptMovePayload asks the server to play a move
type AttemptMovePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// RespondDrawPayload answers the opponent's draw offer
type RespondDrawPayload struct {
	Accept bool `json:"accept"`
}

// TopicPayload names the topic of a subscribe or unsubscribe request
type TopicPayload struct {
	Topic string `json:"topic"`
}

// ChatSendPayload posts a chat line
type ChatSendPayload struct {
	Text string `json:"text"`
}

func newOutbound(typ, gameID string, payload any) Outbound {
	out := Outbound{
		ID:      uuid.NewString(),
		Type:    typ,
		GameID:  gameID,
		Payload: payload,
	}
	if gameID != "" {
		out.Topic = GameTopic(gameID)
	}

	return out
}

// AttemptMove builds an attempt-move intent
func AttemptMove(gameID, from, to, promotion string) Outbound {
	return newOutbound(TypeAttemptMove, gameID, AttemptMovePayload{From: from, To: to, Promotion: promotion})
}

// Resign builds a resign intent
func Resign(gameID string) Outbound {
	return newOutbound(TypeResign, gameID, nil)
}

// OfferDraw builds an offer-draw intent
func OfferDraw(gameID string) Outbound {
	return newOutbound(TypeOfferDraw, gameID, nil)
}

// RespondDraw builds a respond-draw intent
func RespondDraw(gameID string, accept bool) Outbound {
	return newOutbound(TypeRespondDraw, gameID, RespondDrawPayload{Accept: accept})
}

// RequestResync asks the server for a full snapshot of the game
func RequestResync(gameID string) Outbound {
	return newOutbound(TypeRequestResync, gameID, nil)
}

// ChatSend posts text to the game chat
func ChatSend(gameID, text string) Outbound {
	out := newOutbound(TypeChatSend, gameID, ChatSendPayload{Text: text})
	out.Topic = ChatTopic(gameID)
	return out
}

// Subscribe asks the server to start delivering a topic
func Subscribe(topic string) Outbound {
	return Outbound{ID: uuid.NewString(), Type: TypeSubscribe, Topic: topic, Payload: TopicPayload{Topic: topic}}
}

// Unsubscribe asks the server to stop delivering a topic
func Unsubscribe(topic string) Outbound {
	return Outbound{ID: uuid.NewString(), Type: TypeUnsubscribe, Topic: topic, Payload: TopicPayload{Topic: topic}}
}

// Topic prefixes multiplexed over the socket
const (
	GamePrefix  = "game"
	ChatPrefix  = "chat"
	BoardPrefix = "board"
)

// GameTopic carries game state for a game id
func GameTopic(gameID string) string { return GamePrefix + ":" + gameID }

// ChatTopic carries chat lines for a game id
func ChatTopic(gameID string) string { return ChatPrefix + ":" + gameID }

// BoardTopic carries physical board events for a game id
func BoardTopic(gameID string) string { return BoardPrefix + ":" + gameID }

// SplitTopic returns the prefix and game id of a topic
func SplitTopic(topic string) (prefix, gameID string, err error) {
	prefix, gameID, ok := strings.Cut(topic, ":")
	if !ok || prefix == "" || gameID == "" {
		return "", "", fmt.Errorf("invalid topic %q", topic)
	}

	return prefix, gameID, nil
}
