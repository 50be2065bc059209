package banner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_SubstitutesVersion(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "1.2.3"
	assert.Contains(t, Render(), "1.2.3")
	assert.NotContains(t, Render(), "@project_version@")
}
