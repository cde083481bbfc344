package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	host   string
	port   int
	from   string
	send   sendFunc
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, send: smtp.SendMail, logger: logger}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, userEmail, requestID, videoKey, errorMsg string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	msg := failureMessage(n.from, userEmail, requestID, videoKey, errorMsg)
	if err := n.send(addr, nil, n.from, []string{userEmail}, msg); err != nil {
		n.logger.Error("failed to send failure notification email",
			zap.String("to", userEmail),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification email sent",
		zap.String("to", userEmail),
		zap.String("request_id", requestID),
	)
	return nil
}

func failureMessage(from, to, requestID, videoKey, errorMsg string) []byte {
	subject := fmt.Sprintf("FIAP X - Video Analysis Failed [Request %s]", requestID)
	// Header injection guard: the error text may come from the remote service.
	errorMsg = strings.NewReplacer("\r", " ", "\n", " ").Replace(errorMsg)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n", from, to, subject)
	b.WriteString("Hello,\r\n\r\n")
	b.WriteString("Your video analysis request could not be completed. It will not be retried,\r\n")
	b.WriteString("because the video had already been submitted to the analysis service.\r\n\r\n")
	fmt.Fprintf(&b, "Request ID: %s\r\nVideo: %s\r\nError: %s\r\n\r\n", requestID, videoKey, errorMsg)
	b.WriteString("Please submit the request again or contact support.\r\n\r\n")
	b.WriteString("-- FIAP X Video Analysis")
	return []byte(b.String())
}
