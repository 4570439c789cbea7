package cache

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

// KeyFor builds a stable cache key from a prefix and params. Params are
// sorted so map iteration order never changes the key.
func KeyFor(prefix string, params map[string]string) string {
	var parts []string
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)

	key := prefix
	if len(parts) > 0 {
		key = fmt.Sprintf("%s__%s", prefix, strings.Join(parts, "__"))
	}

	// Keep keys readable in /api/status; very long ones are hashed
	if len(key) > 200 {
		return fmt.Sprintf("%s__hash_%x", prefix, md5.Sum([]byte(key)))
	}
	return key
}
