package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderWelcomeEscapes(t *testing.T) {
	body, err := renderWelcome(Welcome{Email: "kim@example.com", FullName: "<b>Kim</b>", Role: "counselor", LoginURL: "https://crm.example.com/login"})
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;b&gt;Kim&lt;/b&gt;")
	assert.Contains(t, body, `href="https://crm.example.com/login"`)
	assert.Contains(t, body, "kim@example.com")

	body, err = renderWelcome(Welcome{Email: "kim@example.com", FullName: "Kim"})
	require.NoError(t, err)
	assert.NotContains(t, body, "href")
}

func TestNoopMailer(t *testing.T) {
	var m Mailer = NoopMailer{}
	assert.NoError(t, m.SendWelcome(context.Background(), Welcome{Email: "x@example.com"}))
}
