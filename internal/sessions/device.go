package sessions

import (
	"net/http"
	"strings"

	"github.com/mileusna/useragent"
	"golang.org/x/text/language"

	"github.com/charlesng35/lensfusion/pkg/crypto"
	"github.com/charlesng35/lensfusion/pkg/validator"
)

// DeviceType is the coarse device class derived from the user agent.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

const (
	unknownPlatform = "Unknown"
	// undeterminedLanguage is the BCP 47 tag for an unknown language.
	undeterminedLanguage = "und"
)

// DeviceInfo identifies the browser a session belongs to. UserAgent, Platform
// and Language form the dedup key; IPAddress is informational.
type DeviceInfo struct {
	UserAgent string `json:"user_agent" validate:"required"`
	Platform  string `json:"platform" validate:"required"`
	Language  string `json:"language" validate:"required,langtag"`
	IPAddress string `json:"ip_address,omitempty"`
}

// DeviceInfoFromRequest captures device information from request headers.
// The Sec-CH-UA-Platform client hint wins over the platform parsed from the
// user agent.
func DeviceInfoFromRequest(r *http.Request, clientIP string) DeviceInfo {
	ua := strings.TrimSpace(r.UserAgent())

	platform := strings.Trim(strings.TrimSpace(r.Header.Get("Sec-CH-UA-Platform")), `"`)
	if platform == "" && ua != "" {
		platform = useragent.Parse(ua).OS
	}
	if platform == "" {
		platform = unknownPlatform
	}

	lang := undeterminedLanguage
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		lang = tags[0].String()
	}

	return DeviceInfo{
		UserAgent: ua,
		Platform:  platform,
		Language:  lang,
		IPAddress: strings.TrimSpace(clientIP),
	}
}

// Normalized trims surrounding whitespace from every field.
func (d DeviceInfo) Normalized() DeviceInfo {
	return DeviceInfo{
		UserAgent: strings.TrimSpace(d.UserAgent),
		Platform:  strings.TrimSpace(d.Platform),
		Language:  strings.TrimSpace(d.Language),
		IPAddress: strings.TrimSpace(d.IPAddress),
	}
}

// Validate checks the dedup key fields.
func (d DeviceInfo) Validate() error {
	return validator.ValidateStruct(d)
}

// Fingerprint is the hex BLAKE2b-256 digest of the dedup key.
func (d DeviceInfo) Fingerprint() string {
	return crypto.Digest(d.UserAgent, d.Platform, d.Language)
}

// Matches compares the dedup key exactly.
func (d DeviceInfo) Matches(other DeviceInfo) bool {
	return d.UserAgent == other.UserAgent &&
		d.Platform == other.Platform &&
		d.Language == other.Language
}

// Label is a human readable description such as "Chrome on Windows".
func (d DeviceInfo) Label() string {
	ua := useragent.Parse(d.UserAgent)
	browser := ua.Name
	if browser == "" {
		browser = "Unknown browser"
	}
	platform := d.Platform
	if platform == "" || platform == unknownPlatform {
		platform = ua.OS
	}
	if platform == "" {
		return browser
	}
	return browser + " on " + platform
}

// DeviceType classifies the user agent.
func (d DeviceInfo) DeviceType() DeviceType {
	ua := useragent.Parse(d.UserAgent)
	switch {
	case ua.Bot:
		return DeviceBot
	case ua.Tablet:
		return DeviceTablet
	case ua.Mobile:
		return DeviceMobile
	case ua.Desktop:
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}
