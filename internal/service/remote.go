package service

import (
	"context"
	"net/http"

	"github.com/bigkaa/tgproxy/internal/tgclient"
)

// RemoteStore: операции Telegram, нужные сервисам.
// Реализуется *tgclient.Client.
type RemoteStore interface {
	Configured() bool
	Probe(ctx context.Context) error
	Upload(ctx context.Context, in tgclient.UploadInput) (string, error)
	Resolve(ctx context.Context, fileID string) (string, error)
	Download(ctx context.Context, fileURL string) (*http.Response, error)
}

var _ RemoteStore = (*tgclient.Client)(nil)
