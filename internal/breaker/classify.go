// ABOUTME: Pure classification of free-text error output into breaker failure categories.
// ABOUTME: Ordered keyword-group matching with a generic fallback on nonzero exit.

package breaker

import "strings"

// keywordGroup pairs a category with the message substrings that imply it.
// Groups are checked in order; the first match wins.
type keywordGroup struct {
	category string
	keywords []string
}

var classifyGroups = []keywordGroup{
	{CategoryBuild, []string{"build failed", "npm err", "vite", "webpack", "compile"}},
	{CategoryCommit, []string{"commit", "git commit", "pre-commit"}},
	{CategoryDeployment, []string{"deploy", "firebase deploy", "hosting"}},
	{CategoryAuth, []string{"auth", "credential", "permission", "token", "login"}},
}

// Classify maps an error message and exit code onto a failure category.
// Matching is case-insensitive. A nonzero exit with no keyword match
// falls back to the generic task category; a clean exit with no match
// returns the empty string (not categorizable).
func Classify(message string, exitCode int) string {
	lower := strings.ToLower(message)

	for _, group := range classifyGroups {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.category
			}
		}
	}

	if exitCode != 0 {
		return CategoryTask
	}
	return ""
}
