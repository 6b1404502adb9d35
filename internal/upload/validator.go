// Package upload validates inbound image uploads before they are sent to the classifier.
package upload

import (
	"io"
	"mime"
	"strings"

	"github.com/example/image-moderation/internal/apperror"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize = 5 << 20

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// Opener acquires the upload stream. Validate releases it.
type Opener func() (io.ReadCloser, error)

// AllowedContentType reports whether the declared content type is an accepted image type.
func AllowedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	_, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(mediaType))]
	return ok
}

// Validate checks the content type, reads at most MaxFileSize+1 bytes and
// enforces the size bounds. The opened stream is closed exactly once.
func Validate(contentType string, open Opener) ([]byte, error) {
	const op = "upload.validate"

	if !AllowedContentType(contentType) {
		return nil, apperror.New(apperror.UnsupportedMediaType, op, nil)
	}

	src, err := open()
	if err != nil {
		return nil, apperror.New(apperror.ReadFailed, op, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxFileSize+1))
	if err != nil {
		return nil, apperror.New(apperror.ReadFailed, op, err)
	}

	if len(data) == 0 {
		return nil, apperror.New(apperror.EmptyFile, op, nil)
	}
	if len(data) > MaxFileSize {
		return nil, apperror.New(apperror.TooLarge, op, nil)
	}
	return data, nil
}
