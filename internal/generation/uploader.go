package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/rs/xid"

	"github.com/oxomo030/comfyflow/internal/domain"
	"github.com/oxomo030/comfyflow/pkg/comfy"
)

// AssetUploader normalizes the three accepted input-image forms
// (inline bytes, http(s) URL, image-store reference) into byte
// streams and pushes them to the backend's upload endpoint.
type AssetUploader struct {
	client     *comfy.Client
	imageStore domain.ImageStore
	httpClient *http.Client
}

type AssetUploaderDependencies struct {
	Client     *comfy.Client
	ImageStore domain.ImageStore
	HTTPClient *http.Client
}

func NewAssetUploader(deps AssetUploaderDependencies) *AssetUploader {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &AssetUploader{
		client:     deps.Client,
		imageStore: deps.ImageStore,
		httpClient: httpClient,
	}
}

// Upload resolves one image reference and uploads it, returning the
// backend-assigned asset name. Failures are reported as
// *domain.UploadError so the orchestrator can retry them.
func (u *AssetUploader) Upload(ctx context.Context, ref domain.ImageRef) (string, error) {
	filename, reader, err := u.resolve(ctx, ref)
	if err != nil {
		return "", &domain.UploadError{Filename: filename, Err: err}
	}
	defer reader.Close()

	assetName, err := u.client.UploadImage(ctx, filename, reader)
	if err != nil {
		return "", &domain.UploadError{Filename: filename, Err: err}
	}

	return assetName, nil
}

func (u *AssetUploader) resolve(ctx context.Context, ref domain.ImageRef) (string, io.ReadCloser, error) {
	switch {
	case len(ref.Data) > 0:
		name := uploadName(extensionFor(http.DetectContentType(ref.Data)))
		return name, io.NopCloser(bytes.NewReader(ref.Data)), nil

	case ref.URL != "":
		return u.fetchURL(ctx, ref.URL)

	case ref.FileID != "":
		stored, err := u.imageStore.GetImage(ctx, domain.GetImageParams{FileID: ref.FileID})
		if err != nil {
			return ref.FileID, nil, fmt.Errorf("resolving stored image: %w", err)
		}

		name := stored.Name
		if name == "" {
			name = uploadName(extensionFor(stored.ContentType))
		}

		return name, stored.Reader, nil
	}

	return "", nil, fmt.Errorf("image reference is empty")
}

func (u *AssetUploader) fetchURL(ctx context.Context, rawURL string) (string, io.ReadCloser, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return rawURL, nil, fmt.Errorf("unsupported image URL scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return rawURL, nil, fmt.Errorf("fetching image: %w", err)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return rawURL, nil, fmt.Errorf("fetching image: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return rawURL, nil, fmt.Errorf("fetching image: HTTP %d", resp.StatusCode)
	}

	name := path.Base(req.URL.Path)
	if name == "." || name == "/" || name == "" {
		name = uploadName(extensionFor(resp.Header.Get("Content-Type")))
	}

	return name, resp.Body, nil
}

// uploadName builds a collision-free backend filename for images that
// arrive without one.
func uploadName(ext string) string {
	return xid.New().String() + ext
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".png"
	}

	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
