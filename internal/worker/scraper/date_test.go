package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseUploadDate(t *testing.T) {
	now := time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"3d ago", now.AddDate(0, 0, -3), true},
		{"2w ago", now.AddDate(0, 0, -14), true},
		{"1m ago", now.AddDate(0, 0, -30), true},
		{"1y ago", now.AddDate(0, 0, -365), true},
		{" 25D AGO ", now.AddDate(0, 0, -25), true},
		{"4-25", day(2026, 4, 25), true},
		{"12-31", day(2025, 12, 31), true},
		{"10-19", day(2026, 10, 19), true},
		{"1-1", day(2026, 1, 1), true},
		{"2-30", time.Time{}, false},
		{"2024-12-23", day(2024, 12, 23), true},
		{"2023-1-5", day(2023, 1, 5), true},
		{"2023-02-29", time.Time{}, false},
		{"", time.Time{}, false},
		{"invalid", time.Time{}, false},
		{"5h ago", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseUploadDate(tt.in, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
