package lastfm

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// calculateSignature generates the MD5 request signature Last.fm requires
// for all signed API calls.
//
// The signature is calculated by:
// 1. Sorting parameter keys alphabetically
// 2. Concatenating key+value pairs (e.g., "keyAvalueAkeyBvalueB")
// 3. Appending the API secret
// 4. Taking the MD5 hash of the result
//
// The "format" and "callback" parameters are never part of the signature;
// callers must add them to the request after signing.
func calculateSignature(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "format" || k == "callback" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// AuthURL returns the user-facing authorization URL for a request token.
func AuthURL(apiKey, token string) string {
	return fmt.Sprintf("https://www.last.fm/api/auth/?api_key=%s&token=%s", apiKey, token)
}
