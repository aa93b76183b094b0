package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted image upload
const MaxImageSize = 5 << 20

var (
	ErrTooLarge        = errors.New("file is too large")
	ErrUnsupportedType = errors.New("unsupported image type")
)

var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// SaveImage stores an uploaded image under dir with a random file name and
// returns its key. The type is sniffed from the content; the client's file
// name and content type are not trusted.
func SaveImage(ctx context.Context, store Store, dir string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > MaxImageSize {
		return "", ErrTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := path.Join(strings.Trim(dir, "/"), uuid.NewString()+ext)
	if err := store.Save(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", err
	}
	return key, nil
}
