package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Handshake headers understood by the game server
const (
	HeaderAPIKey   = "X-Api-Key"
	HeaderPlayerID = "X-Player-Id"
)

// ErrMissingToken is returned when no auth token was configured
var ErrMissingToken = errors.New("auth token must be set")

// Credentials identify the local player during the websocket handshake
type Credentials struct {
	Token    string
	PlayerID string
}

// Validate checks that a token is present
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}

	return nil
}

// Header builds the handshake headers. The token is sent both as an API key
// and as a bearer token since deployments check one or the other.
func (c Credentials) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set(HeaderAPIKey, c.Token)
		h.Set("Authorization", "Bearer "+c.Token)
	}
	if c.PlayerID != "" {
		h.Set(HeaderPlayerID, c.PlayerID)
	}

	return h
}

// Redacted returns the token with all but its last four characters masked,
// for logging
func (c Credentials) Redacted() string {
	if len(c.Token) <= 4 {
		return strings.Repeat("*", len(c.Token))
	}

	return strings.Repeat("*", len(c.Token)-4) + c.Token[len(c.Token)-4:]
}
