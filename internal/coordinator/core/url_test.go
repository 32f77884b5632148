package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeJobURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		allowed []string
		want    string
		wantErr bool
	}{
		{name: "profile url", raw: "https://www.tiktok.com/@alice", want: "https://www.tiktok.com/@alice"},
		{name: "trims whitespace and fragment", raw: "  https://Example.com/a#top ", want: "https://example.com/a"},
		{name: "keeps query", raw: "http://example.com/list?page=2", want: "http://example.com/list?page=2"},
		{name: "empty", raw: "", wantErr: true},
		{name: "relative", raw: "/@alice", wantErr: true},
		{name: "ftp scheme", raw: "ftp://example.com/file", wantErr: true},
		{name: "no host", raw: "https:///path", wantErr: true},
		{name: "garbage", raw: "http://[::1", wantErr: true},
		{name: "allowed host", raw: "https://tiktok.com/@bob", allowed: []string{"tiktok.com"}, want: "https://tiktok.com/@bob"},
		{name: "allowed subdomain", raw: "https://vm.tiktok.com/x", allowed: []string{"tiktok.com"}, want: "https://vm.tiktok.com/x"},
		{name: "host not allowed", raw: "https://nottiktok.com/@bob", allowed: []string{"tiktok.com"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeJobURL(tt.raw, tt.allowed)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.tiktok.com/@alice", "alice"},
		{"https://www.tiktok.com/@alice.b/video/123", "alice.b"},
		{"https://example.com/channels/news/", "news"},
		{"https://example.com", "example.com"},
		{"https://example.com/", "example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveLabel(tt.url), tt.url)
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, KindValidation, ErrorKind(&ValidationError{Field: "url", Reason: "x"}))
	assert.Equal(t, KindNotFound, ErrorKind(ErrJobNotFound))
	assert.Equal(t, KindConflict, ErrorKind(ErrAlreadyAssigned))
	assert.Equal(t, KindConflict, ErrorKind(ErrWorkerUnavailable))
	assert.Equal(t, KindTransient, ErrorKind(Transient("update job", errors.New("connection reset"))))
	assert.Equal(t, KindInternal, ErrorKind(errors.New("other")))
}
