package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Evaluating Pkl needs the pkl binary on PATH, so only construction is covered here.
func TestEvaluator_WithProperties(t *testing.T) {
	props := map[string]string{"env": "prod"}
	e := NewEvaluator("/tmp/stack").WithProperties(props)
	props["env"] = "dev"

	assert.Equal(t, "/tmp/stack", e.baseDir)
	assert.Equal(t, "prod", e.properties["env"])
}
