// Package device maps a raw user-agent string to a coarse device category.
package device

import (
	"regexp"
	"strings"

	"github.com/roach88/snapguard/internal/ir"
)

var (
	// tabletPattern is matched case-insensitively. Android tablets are handled
	// separately because RE2 has no lookahead (see isAndroidTablet).
	tabletPattern = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)

	// mobilePattern is case-sensitive on purpose: "Mobile" must not match the
	// "mobile" inside unrelated product tokens.
	mobilePattern = regexp.MustCompile(`Mobile|iP(hone|od)|Android|BlackBerry|IEMobile|Kindle|Silk-Accelerated|(hpw|web)OS|Opera M(obi|ini)`)
)

// Classify returns the device category for a user agent.
//
// Precedence: tablet, then mobile, then desktop. The tablet check must run
// first because many tablet user agents also contain mobile tokens.
// Unmatched input is DESKTOP; Classify never returns DeviceUnknown.
func Classify(userAgent string) ir.DeviceType {
	if tabletPattern.MatchString(userAgent) || isAndroidTablet(userAgent) {
		return ir.DeviceTablet
	}
	if mobilePattern.MatchString(userAgent) {
		return ir.DeviceMobile
	}
	return ir.DeviceDesktop
}

// isAndroidTablet reports whether some "android" token (any case) is not
// followed anywhere later by "mobi". Android phones advertise "Mobile";
// tablets omit it. It is enough to check the last occurrence: if any earlier
// occurrence qualifies, so does the last one.
func isAndroidTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	idx := strings.LastIndex(lower, "android")
	if idx < 0 {
		return false
	}
	return !strings.Contains(lower[idx+len("android"):], "mobi")
}
