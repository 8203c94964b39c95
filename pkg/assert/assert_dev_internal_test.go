//go:build !release

package assert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThat(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { That(true, "never") })
	assert.PanicsWithValue(t, "row 3 out of range", func() { That(false, "row %d out of range", 3) })
	assert.True(t, Enabled)
}
