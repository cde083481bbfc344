package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifyFailureSendsToRecipient(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n := NewSMTPNotifier("mailhog", 1025, "noreply@fiapx.local", zap.NewNop())
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Equal(t, "noreply@fiapx.local", from)
		return nil
	}

	err := n.NotifyFailure(context.Background(), "ana@example.com", "req-1", "uploads/clip.mp4", "ocr failed\r\nBcc: x@y")
	require.NoError(t, err)

	assert.Equal(t, "mailhog:1025", gotAddr)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: FIAP X - Video Analysis Failed [Request req-1]")
	assert.Contains(t, gotMsg, "Video: uploads/clip.mp4")
	assert.Contains(t, gotMsg, "Error: ocr failed  Bcc: x@y")
	assert.NotContains(t, gotMsg, "\r\nBcc:")
}

func TestNotifyFailureWrapsSendError(t *testing.T) {
	n := NewSMTPNotifier("mailhog", 1025, "noreply@fiapx.local", zap.NewNop())
	boom := errors.New("connection refused")
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	err := n.NotifyFailure(context.Background(), "ana@example.com", "req-1", "k", "e")
	assert.ErrorIs(t, err, boom)
}
