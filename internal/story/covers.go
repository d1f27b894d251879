package story

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/validation"
)

const maxCoverBytes = 5 << 20

// UploadCover stores an image in the blob store and returns its public URL.
func (s *service) UploadCover(ctx context.Context, filename string, data []byte) (string, error) {
	if _, err := s.auth.RequireAdmin(ctx); err != nil {
		return "", err
	}
	if s.blob == nil {
		return "", apperr.Dependency(nil, "cover storage is not configured")
	}
	if len(data) == 0 {
		return "", apperr.Validation("cover image is empty")
	}
	if len(data) > maxCoverBytes {
		return "", apperr.Validation("cover image must be at most %d bytes", maxCoverBytes)
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", apperr.Validation("cover must be an image, got %s", detected.String())
	}

	key := coverKey(filename, detected.Extension())
	ref, err := s.blob.Upload(ctx, key, detected.String(), data)
	if err != nil {
		s.recordError(logrus.Fields{"key": key}, err, "uploading cover image")
		return "", apperr.Dependency(err, "uploading cover image")
	}

	return ref.URL, nil
}

// coverKey builds covers/<uuid>-<name><ext> from the client supplied filename.
func coverKey(filename, extension string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	name := validation.Slugify(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "cover"
	}
	return "covers/" + uuid.NewString() + "-" + name + extension
}
