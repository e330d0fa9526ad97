package build

import "regexp"

var tokenPattern = regexp.MustCompile(`(x-access-token|oauth2):[^@]+@`)

// MaskTokens strips clone credentials from s before it is logged or
// transmitted anywhere.
func MaskTokens(s string) string {
	return tokenPattern.ReplaceAllString(s, "$1:***@")
}
