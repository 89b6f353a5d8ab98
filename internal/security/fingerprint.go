package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceFingerprint derives a coarse device key from connection metadata.
// It is a heuristic used to recognize "the same device" across logins, not a
// security boundary: two devices behind the same NAT with identical user
// agents collide, and that is acceptable.
func DeviceFingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + ip))
	return hex.EncodeToString(sum[:])
}

// DeviceName extracts a short human label from a user-agent string.
func DeviceName(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "Mac"
	case strings.Contains(ua, "linux"):
		return "Linux"
	case ua == "":
		return "Unknown device"
	}
	if len(userAgent) > 32 {
		return userAgent[:32]
	}
	return userAgent
}
