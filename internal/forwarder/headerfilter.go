package forwarder

import (
	"net/http"
	"strings"
)

// blockedHeaders are never forwarded upstream: hop-by-hop headers per
// RFC 7230 §6.1, credentials, and platform forwarding metadata.
var blockedHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"cookie":              {},
	"authorization":       {},
	"forwarded":           {},
	"x-real-ip":           {},
	"x-matched-path":      {},
	"host":                {},
	"content-length":      {},
}

// blockedPrefixes extend the block list to whole header families.
var blockedPrefixes = []string{
	"x-forwarded-",
	"x-vercel-",
	"cf-",
}

// FilterHeaders returns a copy of in with every blocked header removed.
// Matching is case-insensitive. All other headers pass through untouched.
func FilterHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		if headerBlocked(name) {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

func headerBlocked(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := blockedHeaders[lower]; ok {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
