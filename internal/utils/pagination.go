// Package utils holds small helpers shared by the monitoring API and
// guardctl.
package utils

import "strconv"

// ParsePage reads offset and limit query values. Missing or malformed
// values fall back to 0 and defLimit before clamping.
//
//	ParsePage("", "", 50, 500)       // 0, 50
//	ParsePage("-3", "9000", 50, 500) // 0, 500
func ParsePage(offsetRaw, limitRaw string, defLimit, maxLimit int) (offset, limit int) {
	return ClampPage(atoiDefault(offsetRaw, 0), atoiDefault(limitRaw, defLimit), maxLimit)
}

// ClampPage bounds offset to >= 0 and limit to [1, maxLimit].
func ClampPage(offset, limit, maxLimit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
