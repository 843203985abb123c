package utils

import (
	"strconv"
	"strings"
)

// StringFrom returns v as a string when it holds one, otherwise "".
func StringFrom(v any) string {
	s, _ := v.(string)
	return s
}

// BoolFrom accepts JSON booleans as well as "true"/"false" strings.
// Some identity providers emit email_verified as a string claim.
func BoolFrom(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	}
	return false
}

// Int64From converts the numeric shapes produced by encoding/json into an int64.
func Int64From(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return parsed, err == nil
	case interface{ Int64() (int64, error) }:
		parsed, err := n.Int64()
		return parsed, err == nil
	}
	return 0, false
}
