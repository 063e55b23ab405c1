package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionDefaults(t *testing.T) {
	require.Equal(t, "dev", Version)
	require.Equal(t, "", Commit)
}
