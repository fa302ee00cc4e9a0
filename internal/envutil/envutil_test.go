package envutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	assert.Equal(t, "fallback", Get("ENVUTIL_TEST_UNSET", "fallback"))

	t.Setenv("PAINTER_ENVUTIL_TEST_KEY", "prefixed")
	assert.Equal(t, "prefixed", Get("ENVUTIL_TEST_KEY", ""))

	t.Setenv("ENVUTIL_TEST_KEY", "exact")
	assert.Equal(t, "exact", Get("ENVUTIL_TEST_KEY", ""))

	t.Setenv("ENVUTIL_TEST_KEY", "")
	assert.Equal(t, "prefixed", Get("ENVUTIL_TEST_KEY", ""), "empty exact value falls through")

	assert.Equal(t, "prefixed", Get("PAINTER_ENVUTIL_TEST_KEY", ""))
}
