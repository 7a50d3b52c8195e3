package classifier

import (
	"strings"

	"printshop/analytics/models"
)

const Other = "Other"

type signature struct {
	name     string
	patterns []string
}

// Order matters in every list below: the first match wins, so more specific
// signatures sit above the generic ones they would otherwise be shadowed by.

var tabletPatterns = []string{
	"ipad", "tablet", "kindle", "silk/", "playbook", "nexus 7", "nexus 9", "nexus 10", "sm-t", "gt-p",
}

var mobilePatterns = []string{
	"mobi", "iphone", "ipod", "android", "blackberry", "bb10", "windows phone", "iemobile", "opera mini",
}

var browserSignatures = []signature{
	{"Edge", []string{"edg/", "edge/", "edga/", "edgios/"}},
	{"Opera", []string{"opr/", "opera", "opios/"}},
	{"Samsung Internet", []string{"samsungbrowser"}},
	{"Firefox", []string{"firefox", "fxios"}},
	{"Chrome", []string{"chrome", "crios", "chromium"}},
	{"Safari", []string{"safari"}},
	{"Internet Explorer", []string{"msie", "trident/"}},
}

var osSignatures = []signature{
	{"Windows", []string{"windows"}},
	{"iOS", []string{"iphone", "ipad", "ipod"}},
	{"macOS", []string{"mac os x", "macintosh"}},
	{"Android", []string{"android"}},
	{"ChromeOS", []string{"cros "}},
	{"Linux", []string{"linux", "x11"}},
}

var botPatterns = []string{
	"bot", "crawl", "spider", "slurp", "bingpreview", "facebookexternalhit", "mediapartners-google",
	"headlesschrome", "phantomjs", "lighthouse", "pingdom", "uptimerobot", "statuscake",
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client", "java/", "okhttp",
	"axios/", "node-fetch", "scrapy", "httpclient", "ahrefs", "semrush", "yandex", "baiduspider",
	"archive.org", "prerender",
}

// ClassifyUserAgent maps a raw user agent onto device, browser, OS and bot
// flag. An empty user agent is treated as automated traffic.
func ClassifyUserAgent(ua string) models.ClientInfo {
	lower := strings.ToLower(ua)
	return models.ClientInfo{
		Device:  classifyDevice(lower),
		Browser: firstMatch(lower, browserSignatures),
		OS:      firstMatch(lower, osSignatures),
		IsBot:   lower == "" || IsBot(lower),
	}
}

// IsBot reports whether ua carries a known crawler signature.
func IsBot(ua string) bool {
	return containsAny(strings.ToLower(ua), botPatterns)
}

func classifyDevice(ua string) string {
	if containsAny(ua, tabletPatterns) {
		return models.DeviceTablet
	}
	// Android tablets drop the "Mobile" token that Android phones carry.
	if strings.Contains(ua, "android") && !strings.Contains(ua, "mobile") {
		return models.DeviceTablet
	}
	if containsAny(ua, mobilePatterns) {
		return models.DeviceMobile
	}
	return models.DeviceDesktop
}

func firstMatch(ua string, sigs []signature) string {
	for _, sig := range sigs {
		if containsAny(ua, sig.patterns) {
			return sig.name
		}
	}
	return Other
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
