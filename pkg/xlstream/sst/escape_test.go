package sst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukaji3/xlstream-go/pkg/xlstream/container"
)

func TestUnescape(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"plain", "plain"},
		{"line_x000D_break", "line\rbreak"},
		{"bell_x0007_", "bell\a"},
		{"_x005F_x0008_", "_x0008_"},
		{"_x00E9_t_x00E9_", "été"},
		{"_xZZZZ_", "_xZZZZ_"},
		{"_x00", "_x00"},
		{"snake_case", "snake_case"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Unescape(tt.in), tt.in)
	}
}

func TestResolverUnescapesItems(t *testing.T) {
	table := []byte(`<sst uniqueCount="2"><si><t>a_x000D_b</t></si><si><r><t>x_x005F_</t></r><r><t>x0041_</t></r></si></sst>`)
	a := openArchive(t, writeTable(t, table), container.DefaultLimits())
	r, err := New(a, 10)
	require.NoError(t, err)

	got, err := r.String(0)
	require.NoError(t, err)
	assert.Equal(t, "a\rb", got)

	got, err = r.String(1)
	require.NoError(t, err)
	assert.Equal(t, "x_x0041_", got, "runs are joined before decoding")
}
