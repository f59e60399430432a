package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionReq_Matches(t *testing.T) {
	tests := []struct {
		req     string
		version string
		want    bool
	}{
		{"", "0.1.0", true},
		{"*", "9.9.9", true},
		{"0.5.0", "0.5.0", true},
		{"0.5.0", "0.5.3", true},
		{"0.5.0", "0.6.0", false},
		{"0.5.0", "0.4.9", false},
		{"^1.2.0", "1.9.0", true},
		{"^1.2.0", "2.0.0", false},
		{"1", "1.4.0", true},
		{"=1.2.3", "1.2.4", false},
		{"=1.2.3", "1.2.3", true},
		{">=1.0.0", "3.0.0", true},
		{">=1.0.0", "0.9.0", false},
		{"^0.0.3", "0.0.4", false},
		{"^0.0.3", "0.0.3", true},
	}
	for _, tt := range tests {
		t.Run(tt.req+"~"+tt.version, func(t *testing.T) {
			r, err := ParseVersionReq(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Matches(tt.version))
		})
	}
}

func TestValidVersion(t *testing.T) {
	assert.True(t, ValidVersion("0.5.0"))
	assert.True(t, ValidVersion("1.0.0-beta.1"))
	assert.False(t, ValidVersion(""))
	assert.False(t, ValidVersion("v1.0.0"))
	assert.False(t, ValidVersion("1.0"))
}
