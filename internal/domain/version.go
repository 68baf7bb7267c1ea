package domain

import (
	"strconv"
	"strings"
)

// VersionToken renders a card version as the opaque token handed to callers (ETag style, quoted).
func VersionToken(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

// MatchVersionToken reports whether the caller-supplied token names exactly the given version.
// Absent, weak or non-numeric tokens never match.
func MatchVersionToken(token string, version int64) bool {
	token = strings.TrimSpace(token)
	if token == "" || strings.HasPrefix(token, "W/") {
		return false
	}
	token = strings.Trim(token, `"`)
	parsed, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return false
	}
	return parsed == version
}
