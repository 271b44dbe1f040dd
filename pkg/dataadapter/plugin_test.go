//go:build !windows

package dataadapter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/adapter.so")
	require.Error(t, err)
}
