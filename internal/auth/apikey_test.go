package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader(t *testing.T) {
	h := Credentials{Token: "secret-token", PlayerID: "p1"}.Header()

	assert.Equal(t, "secret-token", h.Get(HeaderAPIKey))
	assert.Equal(t, "Bearer secret-token", h.Get("Authorization"))
	assert.Equal(t, "p1", h.Get(HeaderPlayerID))
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Credentials{Token: "  "}.Validate(), ErrMissingToken)
	assert.NoError(t, Credentials{Token: "x"}.Validate())
}

func TestRedacted(t *testing.T) {
	assert.Equal(t, "********oken", Credentials{Token: "secret-token"}.Redacted())
	assert.Equal(t, "***", Credentials{Token: "abc"}.Redacted())
}
