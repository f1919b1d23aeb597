// ABOUTME: HTTP caching contract for discovery responses
// ABOUTME: Private max-age, Vary on credentials, a cache tag, and ETag/304 handling

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// DiscoveryCacheTag labels cacheable discovery responses for purging.
const DiscoveryCacheTag = "toolbridge:discovery"

// discoveryETag derives a strong ETag from the registry version, the
// principal fingerprint and the request parameter that shapes the body.
func discoveryETag(version uint64, fingerprint, param string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d\x00%s\x00%s", version, fingerprint, param))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// setDiscoveryHeaders sets the cache headers shared by 200 and 304 responses.
func setDiscoveryHeaders(h http.Header, maxAge int, etag string) {
	h.Set("Cache-Control", "private, max-age="+strconv.Itoa(maxAge))
	h.Set("Vary", "Authorization, Cookie")
	h.Set("Cache-Tag", DiscoveryCacheTag)
	h.Set("ETag", etag)
}

// notModified writes a 304 when If-None-Match matches etag.
func notModified(w http.ResponseWriter, r *http.Request, maxAge int, etag string) bool {
	if !etagMatches(r.Header.Get("If-None-Match"), etag) {
		return false
	}
	setDiscoveryHeaders(w.Header(), maxAge, etag)
	w.WriteHeader(http.StatusNotModified)
	return true
}

// etagMatches implements the weak comparison If-None-Match requires.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for candidate := range strings.SplitSeq(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
