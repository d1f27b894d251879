package blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type stubPutter struct {
	calls int
	input *s3.PutObjectInput
	body  []byte
	err   error
}

var _ objectPutter = (*stubPutter)(nil)

func (s *stubPutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.calls++
	s.input = params
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		s.body = data
	}
	if s.err != nil {
		return nil, s.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUploadPutsObjectAndBuildsLink(t *testing.T) {
	t.Parallel()

	putter := &stubPutter{}
	store := newS3Store(putter, "covers", "https://cdn.example.com/covers", nil)

	ref, err := store.Upload(context.Background(), "/covers/abc-ghost.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	if ref.Key != "covers/abc-ghost.png" {
		t.Fatalf("unexpected key %q", ref.Key)
	}
	if ref.URL != "https://cdn.example.com/covers/covers/abc-ghost.png" {
		t.Fatalf("unexpected url %q", ref.URL)
	}
	if putter.calls != 1 || *putter.input.Bucket != "covers" || *putter.input.ContentType != "image/png" {
		t.Fatalf("unexpected put input %#v", putter.input)
	}
	if string(putter.body) != "png-bytes" {
		t.Fatalf("unexpected body %q", putter.body)
	}
}

func TestUploadSurfacesClientFailure(t *testing.T) {
	t.Parallel()

	store := newS3Store(&stubPutter{err: errors.New("bucket unreachable")}, "covers", "https://cdn.example.com", nil)

	if _, err := store.Upload(context.Background(), "covers/x.png", "image/png", []byte("x")); err == nil {
		t.Fatalf("expected upload failure to be returned")
	}
}

func TestUploadRequiresKey(t *testing.T) {
	t.Parallel()

	putter := &stubPutter{}
	store := newS3Store(putter, "covers", "https://cdn.example.com", nil)

	if _, err := store.Upload(context.Background(), "  ", "image/png", []byte("x")); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if putter.calls != 0 {
		t.Fatalf("expected no client call, got %d", putter.calls)
	}
}

func TestPublicBase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		opts     Options
		endpoint string
		want     string
	}{
		{"explicit", Options{PublicBaseURL: "https://cdn.example.com/", Bucket: "b"}, "https://s3.example.com", "https://cdn.example.com"},
		{"custom endpoint", Options{Bucket: "b"}, "https://s3.example.com", "https://s3.example.com/b"},
		{"aws", Options{Bucket: "b", Region: "eu-central-1"}, "", "https://b.s3.eu-central-1.amazonaws.com"},
	}

	for _, tc := range cases {
		if got := publicBase(tc.opts, tc.endpoint); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := NewS3Store(context.Background(), Options{Region: "us-east-1"}, nil); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
