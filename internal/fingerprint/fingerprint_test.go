package fingerprint

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/teardown/internal/model"
)

// pngBytes is a valid 1x1 PNG with a trailing marker so variants differ.
func pngBytes(marker byte) []byte {
	b := []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
		0x42, 0x60, 0x82,
	}
	return append(b, marker)
}

func jpegBytes() []byte {
	return []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xff, 0xd9}
}

func img(data []byte) model.Image {
	return model.Image{MimeType: "image/png", Base64: base64.StdEncoding.EncodeToString(data)}
}

func TestNormalize_SniffsType(t *testing.T) {
	got, err := Normalize(context.Background(), []model.Image{
		img(pngBytes(1)),
		{MimeType: "image/png", Base64: base64.StdEncoding.EncodeToString(jpegBytes())},
	}, Limits{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "image/png", got[0].MimeType)
	assert.Equal(t, "image/jpeg", got[1].MimeType)
}

func TestNormalize_DataURIAndURLAlphabet(t *testing.T) {
	data := pngBytes(2)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	url := base64.RawURLEncoding.EncodeToString(data)

	got, err := Normalize(context.Background(), []model.Image{{Base64: uri}, {Base64: url}}, Limits{})
	require.NoError(t, err)
	assert.Equal(t, data, got[0].Data)
	assert.Equal(t, data, got[1].Data)
	assert.Equal(t, uri, got[0].DataURI())
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		images []model.Image
		lim    Limits
	}{
		{"no images", nil, Limits{}},
		{"too many", []model.Image{img(pngBytes(1)), img(pngBytes(2))}, Limits{MaxCount: 1}},
		{"too large", []model.Image{img(pngBytes(1))}, Limits{MaxBytes: 10}},
		{"not base64", []model.Image{{Base64: "%%%not-base64%%%"}}, Limits{}},
		{"empty", []model.Image{{Base64: "  "}}, Limits{}},
		{"not an image", []model.Image{{Base64: base64.StdEncoding.EncodeToString([]byte("hello, plain text"))}}, Limits{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(context.Background(), tt.images, tt.lim)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidImage))
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := []Normalized{{MimeType: "image/png", Data: pngBytes(1)}}
	b := []Normalized{{MimeType: "image/jpeg", Data: pngBytes(1)}}

	fp := Generate(a)
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Generate(a))
	// Metadata does not affect the key.
	assert.Equal(t, fp, Generate(b))
}

func TestGenerate_UsesFirstImageOnly(t *testing.T) {
	first := Normalized{Data: pngBytes(1)}
	assert.Equal(t,
		Generate([]Normalized{first}),
		Generate([]Normalized{first, {Data: pngBytes(9)}}),
	)
	assert.NotEqual(t, Generate([]Normalized{first}), Generate([]Normalized{{Data: pngBytes(2)}}))
}

func TestGenerate_Empty(t *testing.T) {
	assert.Empty(t, Generate(nil))
}
