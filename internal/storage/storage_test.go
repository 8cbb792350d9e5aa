package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, x%h, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestUploader(putter objectPutter) *Uploader {
	return &Uploader{
		cfg:    Config{Bucket: "media", PublicBaseURL: "https://cdn.example.com/", Prefix: "/sources/"},
		client: putter,
		now:    func() time.Time { return time.Date(2025, 4, 9, 10, 0, 0, 0, time.UTC) },
	}
}

func TestNormalizeFitsLargeImages(t *testing.T) {
	out, err := Normalize(pngBytes(t, 4096, 1024))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 2048, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	out, err := Normalize(pngBytes(t, 300, 200))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestUploadSourceStoresJPEG(t *testing.T) {
	putter := &fakePutter{}
	u := newTestUploader(putter)

	url, err := u.UploadSource(context.Background(), pngBytes(t, 64, 64))
	require.NoError(t, err)

	key := aws.ToString(putter.input.Key)
	assert.True(t, strings.HasPrefix(key, "sources/2025/04/09/"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)
	assert.Equal(t, "https://cdn.example.com/"+key, url)
	assert.Equal(t, "image/jpeg", aws.ToString(putter.input.ContentType))
	assert.Equal(t, "media", aws.ToString(putter.input.Bucket))
	assert.Equal(t, []byte{0xff, 0xd8}, putter.body[:2])
}

func TestUploadWrapsStorageErrors(t *testing.T) {
	u := newTestUploader(&fakePutter{err: errors.New("access denied")})

	_, err := u.Upload(context.Background(), []byte{1, 2, 3}, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	_, err = u.Upload(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestNewUploaderValidatesConfig(t *testing.T) {
	_, err := NewUploader(Config{Region: "us-east-1", AccessKey: "a", SecretKey: "b", PublicBaseURL: "https://cdn"})
	assert.Error(t, err)

	u, err := NewUploader(Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "b", PublicBaseURL: "https://cdn"})
	require.NoError(t, err)
	assert.Equal(t, "sources", u.cfg.Prefix)
}
