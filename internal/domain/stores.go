package domain

import (
	"context"
	"io"
)

// StoredImage is one image resolved from the external image store.
// The caller owns Reader and must close it.
type StoredImage struct {
	Name        string
	ContentType string
	SizeInBytes int64
	Reader      io.ReadCloser
}

type GetImageParams struct {
	FileID string
}

// ImageStore resolves internal file references from edit requests to
// byte streams. Ownership of the underlying storage is external to
// this client.
type ImageStore interface {
	GetImage(ctx context.Context, params GetImageParams) (StoredImage, error)
}

// ConfigStore loads the persisted workflow+mapping configuration for a
// mode. Implementations must return an immutable snapshot; request-path
// code never mutates what it is handed.
type ConfigStore interface {
	GetWorkflowConfig(ctx context.Context, mode GenerationMode) (WorkflowConfig, error)
}
