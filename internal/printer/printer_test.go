package printer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestHealth(t *testing.T) {
	t.Run("known states are colorized", func(t *testing.T) {
		require.Contains(t, Health("healthy"), "healthy")
		require.Contains(t, Health("degraded"), "degraded")
		require.Contains(t, Health("down"), "down")
	})

	t.Run("unknown state passes through unchanged", func(t *testing.T) {
		require.Equal(t, "offline", Health("offline"))
	})
}

func TestSeverity(t *testing.T) {
	t.Run("known severities are colorized", func(t *testing.T) {
		require.Contains(t, Severity("low"), "low")
		require.Contains(t, Severity("medium"), "medium")
		require.Contains(t, Severity("high"), "high")
	})

	t.Run("unknown severity passes through unchanged", func(t *testing.T) {
		require.Equal(t, "extreme", Severity("extreme"))
	})
}

// Note: Error prints formatted output to stderr with colors. The error
// object returned only contains the title for Cobra's error handling,
// which avoids duplicate output while keeping rich formatted errors.
