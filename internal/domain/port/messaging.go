package port

import "context"

// Event kinds carried in the message type of status publications.
const (
	EventAnalysisStatus = "analysis.status"
	EventOCRState       = "ocr.state"
)

type StatusPublisher interface {
	PublishStatus(ctx context.Context, kind string, msg []byte) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}
