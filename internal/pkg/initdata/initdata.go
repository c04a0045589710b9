// Package initdata verifies the signed initData payload that the Telegram
// WebApp client attaches to requests.
//
// The payload is a query string of key=value pairs plus a "hash" pair.
// The hash is HMAC-SHA256 over the data-check-string (all other pairs,
// values percent-decoded, sorted by key, joined with '\n'), keyed by
// SHA256(secret), hex encoded.
//
// An empty secret turns verification off and every payload is accepted.
// This is the mode for deployments without a bot token; it trades request
// authenticity for being able to run without the platform integration.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const hashKey = "hash"

// Verify reports whether raw carries a valid signature for secret.
// It never panics or returns an error: malformed input is simply invalid.
func Verify(raw, secret string) bool {
	if secret == "" {
		return true
	}

	fields, received, ok := parse(raw)
	if !ok {
		return false
	}

	want, err := hex.DecodeString(received)
	if err != nil || len(want) != sha256.Size {
		return false
	}

	return hmac.Equal(sign(fields, secret), want)
}

// Sign builds a signed payload from fields, as the platform client would.
// Any "hash" entry in fields is ignored.
func Sign(fields map[string]string, secret string) string {
	values := make(map[string]string, len(fields))
	for k, v := range fields {
		if k != hashKey {
			values[k] = v
		}
	}

	q := url.Values{}
	for k, v := range values {
		q.Set(k, v)
	}
	q.Set(hashKey, hex.EncodeToString(sign(values, secret)))
	return q.Encode()
}

// CheckString returns the canonical data-check-string for fields.
func CheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

func sign(fields map[string]string, secret string) []byte {
	key := sha256.Sum256([]byte(secret))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(CheckString(fields)))
	return mac.Sum(nil)
}

// parse splits raw into decoded fields and the received hash.
// Keys and values are percent-decoded. Duplicate keys, pairs without '='
// and undecodable pairs are rejected.
func parse(raw string) (map[string]string, string, bool) {
	fields := make(map[string]string)
	var received string
	var haveHash bool

	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rawKey, v, found := strings.Cut(part, "=")
		if !found {
			return nil, "", false
		}
		k, err := url.QueryUnescape(rawKey)
		if err != nil || k == "" {
			return nil, "", false
		}

		if k == hashKey {
			if haveHash {
				return nil, "", false
			}
			received, haveHash = v, true
			continue
		}

		if _, dup := fields[k]; dup {
			return nil, "", false
		}
		decoded, err := url.QueryUnescape(v)
		if err != nil {
			return nil, "", false
		}
		fields[k] = decoded
	}

	if !haveHash || received == "" {
		return nil, "", false
	}
	return fields, strings.ToLower(received), true
}
