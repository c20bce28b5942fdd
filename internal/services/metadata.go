package services

import (
	"strings"

	"github.com/cadencehq/cadence/internal/models"
)

// GeoResolver maps a client IP to a coarse location string. The default
// implementation returns nothing; a GeoIP-backed one can be plugged in.
type GeoResolver interface {
	Locate(ip string) string
}

type noopGeoResolver struct{}

func (noopGeoResolver) Locate(string) string { return "" }

// NewNoopGeoResolver returns a resolver that never resolves.
func NewNoopGeoResolver() GeoResolver { return noopGeoResolver{} }

// ExtractMetadata derives device, browser and OS from the User-Agent header.
// Token checks are ordered so that substring collisions resolve correctly:
// Edge and Opera carry "Chrome", Chrome carries "Safari", Android carries
// "Linux".
func ExtractMetadata(userAgent, ip string, geo GeoResolver) models.ResponseMetadata {
	md := models.ResponseMetadata{UserAgent: userAgent}
	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		md.Device = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		md.Device = "mobile"
	case ua != "":
		md.Device = "desktop"
	default:
		md.Device = "unknown"
	}

	switch {
	case strings.Contains(ua, "edg"):
		md.Browser = "Edge"
	case strings.Contains(ua, "opr") || strings.Contains(ua, "opera"):
		md.Browser = "Opera"
	case strings.Contains(ua, "chrome"):
		md.Browser = "Chrome"
	case strings.Contains(ua, "safari"):
		md.Browser = "Safari"
	case strings.Contains(ua, "firefox"):
		md.Browser = "Firefox"
	default:
		md.Browser = "unknown"
	}

	switch {
	case strings.Contains(ua, "windows"):
		md.OS = "Windows"
	case strings.Contains(ua, "android"):
		md.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		md.OS = "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		md.OS = "macOS"
	case strings.Contains(ua, "linux"):
		md.OS = "Linux"
	default:
		md.OS = "unknown"
	}

	if geo != nil && ip != "" {
		md.Location = geo.Locate(ip)
	}
	return md
}
