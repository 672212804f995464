package rediskeys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ResponseCachePrefix namespaces all shared response-cache entries so a
// wholesale Clear can SCAN-match them without touching unrelated keys.
const ResponseCachePrefix = "respcache:"

// ResponseCacheKey generates the Redis key for a cached response. Logical
// cache keys embed full URLs and serialized request bodies, so they are
// hashed to keep the key space bounded; the raw key travels inside the
// stored value for diagnostics.
func ResponseCacheKey(logicalKey string) string {
	sum := sha256.Sum256([]byte(logicalKey))
	return fmt.Sprintf("%s%s", ResponseCachePrefix, hex.EncodeToString(sum[:]))
}
