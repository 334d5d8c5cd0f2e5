package services

import (
	"context"
	"io"

	"github.com/rewear/apiserver/internal/logging"
	"golang.org/x/sync/errgroup"
)

// MediaHost stores uploaded files and releases them by reference.
type MediaHost interface {
	Upload(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// MediaFile is an uploaded file on its way to the media host.
type MediaFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// uploadAll uploads files in order. If one fails, the ones already uploaded
// are released and the error is returned.
func uploadAll(ctx context.Context, media MediaHost, log logging.Logger, files []MediaFile) ([]string, error) {
	refs := make([]string, 0, len(files))
	for _, f := range files {
		ref, err := media.Upload(ctx, f.Name, f.Content, f.Size, f.ContentType)
		if err != nil {
			releaseMedia(ctx, media, log, refs...)
			return nil, mediaError("upload "+f.Name, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// releaseAll deletes every ref concurrently, once each, and returns the first
// failure.
func releaseAll(ctx context.Context, media MediaHost, refs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		g.Go(func() error {
			return media.Delete(ctx, ref)
		})
	}
	return g.Wait()
}

// releaseMedia is a best-effort release: failures are logged and dropped.
func releaseMedia(ctx context.Context, media MediaHost, log logging.Logger, refs ...string) {
	if len(refs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := releaseAll(ctx, media, refs); err != nil {
		log.Warn(ctx, "release media failed", "refs", refs, "error", err)
	}
}
