// Package fingerprint normalizes uploaded photos and derives the
// content-addressed key used by the result cache.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/teardown/internal/model"
)

// ErrInvalidImage is returned for payloads that are not acceptable photos.
var ErrInvalidImage = eris.New("fingerprint: invalid image")

// Normalized is a decoded image with its sniffed MIME type.
type Normalized struct {
	MimeType string
	Data     []byte
}

// Base64 re-encodes the image with the standard alphabet.
func (n Normalized) Base64() string {
	return base64.StdEncoding.EncodeToString(n.Data)
}

// DataURI returns the image as a data: URI.
func (n Normalized) DataURI() string {
	return "data:" + n.MimeType + ";base64," + n.Base64()
}

// Limits bounds what Normalize accepts.
type Limits struct {
	MaxBytes int
	MaxCount int
}

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
	"image/heic": true,
}

// Normalize decodes and validates every image. The declared MIME type is
// ignored in favour of the sniffed one.
func Normalize(ctx context.Context, images []model.Image, lim Limits) ([]Normalized, error) {
	if len(images) == 0 {
		return nil, eris.Wrap(ErrInvalidImage, "no images supplied")
	}
	if lim.MaxCount > 0 && len(images) > lim.MaxCount {
		return nil, eris.Wrapf(ErrInvalidImage, "%d images exceeds limit of %d", len(images), lim.MaxCount)
	}

	out := make([]Normalized, len(images))
	g, _ := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			n, err := decode(img.Base64, lim.MaxBytes)
			if err != nil {
				return eris.Wrapf(err, "image %d", i)
			}
			out[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(encoded string, maxBytes int) (Normalized, error) {
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		if comma := strings.IndexByte(payload, ','); comma >= 0 {
			payload = payload[comma+1:]
		}
	}
	if payload == "" {
		return Normalized{}, eris.Wrap(ErrInvalidImage, "empty payload")
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return Normalized{}, eris.Wrap(ErrInvalidImage, "not valid base64")
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return Normalized{}, eris.Wrapf(ErrInvalidImage, "%d bytes exceeds limit of %d", len(data), maxBytes)
	}

	mt := mimetype.Detect(data)
	if !allowedTypes[mt.String()] {
		return Normalized{}, eris.Wrapf(ErrInvalidImage, "unsupported content type %s", mt.String())
	}
	return Normalized{MimeType: mt.String(), Data: data}, nil
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, eris.New("fingerprint: base64 decode")
}

// Generate returns the lowercase hex SHA-256 of the first image. The same
// bytes always yield the same fingerprint.
func Generate(images []Normalized) string {
	if len(images) == 0 {
		return ""
	}
	sum := sha256.Sum256(images[0].Data)
	return hex.EncodeToString(sum[:])
}
