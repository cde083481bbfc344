package port

import (
	"context"
	"io"
)

type VideoSource interface {
	OpenVideo(ctx context.Context, objectKey string) (io.ReadCloser, int64, error)
}

type ReportStorage interface {
	UploadReport(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
}
