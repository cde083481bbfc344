package port

import "context"

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, userEmail string, requestID string, videoKey string, errorMsg string) error
}
