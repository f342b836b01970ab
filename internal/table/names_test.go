package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumnName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"pickup_longitude", "pickup_longitude"},
		{" trip distance ", "trip_distance"},
		{"1st", "_1st"},
		{"a-b.c", "a_b_c"},
		{"", "_"},
		{"café", "café"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeColumnName(tt.in))
		})
	}
}

func TestNormalizeColumnNames_Disambiguates(t *testing.T) {
	got := NormalizeColumnNames([]string{"a", "a", "a_1", "b c", "b_c"})
	assert.Equal(t, []string{"a", "a_1", "a_1_1", "b_c", "b_c_1"}, got)
}

func TestPositionalNames(t *testing.T) {
	assert.Equal(t, []string{"_1", "_2", "_3"}, PositionalNames(3))
}
