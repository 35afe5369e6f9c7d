// Package fingerprint derives session identifiers and coarse device
// fingerprints from request metadata, and scores how anomalous a login
// looks against the user's recent history.
//
// Fingerprints are deliberately coarse: browser family, OS family, and a
// network prefix rather than the full address. They group "same person,
// same machine" without becoming a tracking identifier, and they survive
// minor browser updates and DHCP churn within a subnet.
package fingerprint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

const (
	sessionUASample = 64
	deviceHashLen   = 32
)

// SessionID derives a unique, unguessable session identifier. The user
// agent and IP are mixed in for traceability, but 16 random bytes and a
// nanosecond timestamp guarantee uniqueness even for identical clients.
func SessionID(userAgent, ip string) (string, error) {
	var entropy [16]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", err
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))

	h := sha256.New()
	h.Write([]byte(truncate(userAgent, sessionUASample)))
	h.Write([]byte{0})
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write(ts[:])
	h.Write(entropy[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Device derives a stable, coarse device fingerprint from browser family,
// OS family, and network prefix. Two logins from the same laptop on the
// same subnet produce the same value; a different browser or network does
// not.
func Device(userAgent, ip string) string {
	h := sha256.New()
	h.Write([]byte(BrowserFamily(userAgent)))
	h.Write([]byte{0})
	h.Write([]byte(OSFamily(userAgent)))
	h.Write([]byte{0})
	h.Write([]byte(NetworkPrefix(ip)))

	return hex.EncodeToString(h.Sum(nil))[:deviceHashLen]
}

// BrowserFamily classifies a user agent into a coarse browser bucket.
// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
func BrowserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "chrome"), strings.Contains(ua, "chromium"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	default:
		return "other"
	}
}

// OSFamily classifies a user agent into a coarse operating-system bucket.
// iOS before mac: iPad user agents contain "like Mac OS X".
func OSFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "other"
	}
}

// NetworkPrefix reduces an address to its routing neighborhood: the first
// three octets for IPv4, the first four groups for IPv6.
func NetworkPrefix(ip string) string {
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ":") {
		groups := strings.Split(ip, ":")
		if len(groups) > 4 {
			groups = groups[:4]
		}
		return strings.Join(groups, ":")
	}

	octets := strings.Split(ip, ".")
	if len(octets) == 4 {
		return strings.Join(octets[:3], ".")
	}
	return ip
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
