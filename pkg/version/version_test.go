package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/geoval/pkg/version"
)

func TestString(t *testing.T) {
	t.Parallel()

	version.Init()

	s := version.String()
	assert.Contains(t, s, "geoval "+version.Version)
	assert.Contains(t, s, "commit: "+version.Commit)
}
