package mockmail_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mockmailer/modules/mockmail"
)

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	msg := mockmail.BuildMessage()
	assert.Equal(t, "you@yourwebsite.com", msg.To)
	assert.Equal(t, "keep your head up", msg.Subject)
	assert.Equal(t, "life is hard but you got this - keep coding and keep going!", msg.Body)

	assert.Equal(t, msg, mockmail.BuildMessage())
}

func TestMessage_SendEmailParams(t *testing.T) {
	t.Parallel()

	params, err := mockmail.BuildMessage().SendEmailParams(context.Background())
	require.NoError(t, err)
	require.NoError(t, params.Validate())

	assert.Equal(t, "you@yourwebsite.com", params.SendTo)
	assert.Equal(t, "keep your head up", params.Subject)
	assert.Equal(t, "life is hard but you got this - keep coding and keep going!", params.BodyText)
	assert.Equal(t, "mock_email", params.Tag)
	assert.Contains(t, params.BodyHTML, "<title>keep your head up</title>")
	assert.Contains(t, params.BodyHTML, "<p>life is hard but you got this - keep coding and keep going!</p>")
}
