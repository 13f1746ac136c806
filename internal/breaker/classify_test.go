// ABOUTME: Tests for failure-message classification.
// ABOUTME: Validates keyword-group ordering, case folding, and the exit-code fallback.

package breaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		exitCode int
		want     string
	}{
		{"build keyword", "npm ERR! build failed in module x", 1, CategoryBuild},
		{"vite counts as build", "vite: rollup could not resolve import", 1, CategoryBuild},
		{"commit keyword", "git commit rejected by hook", 1, CategoryCommit},
		{"deployment keyword", "firebase deploy exited with 1", 1, CategoryDeployment},
		{"auth keyword", "invalid credential supplied", 1, CategoryAuth},
		{"token is auth", "token expired, please login again", 1, CategoryAuth},
		{"case insensitive", "BUILD FAILED", 1, CategoryBuild},
		{"nonzero exit no keywords", "something strange happened", 2, CategoryTask},
		{"clean exit no keywords", "all good", 0, ""},
		{"empty message nonzero exit", "", 7, CategoryTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message, tt.exitCode))
		})
	}
}

// Build keywords are checked before commit keywords, so a message carrying
// both classifies as a build failure.
func TestClassify_GroupOrdering(t *testing.T) {
	got := Classify("build failed during pre-commit hook", 1)
	assert.Equal(t, CategoryBuild, got)
}
