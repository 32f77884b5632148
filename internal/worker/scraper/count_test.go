package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"142.5K", 142500},
		{"1.2M", 1200000},
		{"3B", 3000000000},
		{"987", 987},
		{"12k", 12000},
		{" 4.5 M views", 4500000},
		{"1,234", 1234},
		{"", 0},
		{"n/a", 0},
		{"1.2.3K", 0},
		{"KM", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCount(tt.in))
		})
	}
}
