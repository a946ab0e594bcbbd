package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Cache key constants for consistent key generation across the application
const (
	cacheKeySeparator = ":"
)

// Key joins prefix, scope and key into a store key
func Key(prefix, scope, key string) string {
	return strings.Join([]string{prefix, scope, key}, cacheKeySeparator)
}

// ScopePrefix returns the prefix shared by every key of scope
func ScopePrefix(prefix, scope string) string {
	return prefix + cacheKeySeparator + scope + cacheKeySeparator
}

// HashKey builds "{op}:{hash}" where hash is the xxhash of fingerprint
func HashKey(op string, fingerprint []byte) string {
	return op + cacheKeySeparator + strconv.FormatUint(xxhash.Sum64(fingerprint), 16)
}

func validKey(scope, key string) bool {
	return scope != "" && key != ""
}
