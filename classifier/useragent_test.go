package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"printshop/analytics/models"
)

const (
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 16_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Mobile/15E148 Safari/604.1"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"
	uaKindle        = "Mozilla/5.0 (Linux; Android 9; KFMAWI) AppleWebKit/537.36 (KHTML, like Gecko) Silk/108.4.6 like Chrome/108.0.5359.220 Safari/537.36"
	uaGalaxyTab     = "Mozilla/5.0 (Linux; Android 12; SM-T870) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Mobile Safari/537.36"
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaPixel         = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaWinChrome     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaWinEdge       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91"
	uaMacFirefox    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaMacSafari     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	uaOpera         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 OPR/106.0.0.0"
	uaLinuxFirefox  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaChromebook    = "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaGooglebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	uaHeadless      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"
)

func TestClassifyUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want models.ClientInfo
	}{
		{"windows chrome", uaWinChrome, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Chrome", OS: "Windows"}},
		{"edge before chrome", uaWinEdge, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Edge", OS: "Windows"}},
		{"opera before chrome", uaOpera, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Opera", OS: "Windows"}},
		{"mac firefox", uaMacFirefox, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Firefox", OS: "macOS"}},
		{"mac safari", uaMacSafari, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Safari", OS: "macOS"}},
		{"linux firefox", uaLinuxFirefox, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Firefox", OS: "Linux"}},
		{"chromebook", uaChromebook, models.ClientInfo{Device: models.DeviceDesktop, Browser: "Chrome", OS: "ChromeOS"}},
		{"iphone", uaIPhone, models.ClientInfo{Device: models.DeviceMobile, Browser: "Safari", OS: "iOS"}},
		{"android phone", uaPixel, models.ClientInfo{Device: models.DeviceMobile, Browser: "Chrome", OS: "Android"}},
		{"ipad", uaIPad, models.ClientInfo{Device: models.DeviceTablet, Browser: "Safari", OS: "iOS"}},
		{"unknown agent", "SomethingElse/1.0", models.ClientInfo{Device: models.DeviceDesktop, Browser: Other, OS: Other}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyUserAgent(tt.ua))
		})
	}
}

func TestClassifyUserAgent_TabletWinsOverMobile(t *testing.T) {
	// Each of these also contains a mobile marker ("Mobile", "Android").
	for _, ua := range []string{uaIPad, uaAndroidTablet, uaKindle, uaGalaxyTab} {
		assert.Equal(t, models.DeviceTablet, ClassifyUserAgent(ua).Device, ua)
	}
}

func TestClassifyUserAgent_Bots(t *testing.T) {
	bots := []string{
		uaGooglebot,
		uaHeadless,
		"curl/8.4.0",
		"python-requests/2.31.0",
		"Go-http-client/1.1",
		"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
		"facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)",
		"",
	}
	for _, ua := range bots {
		assert.True(t, ClassifyUserAgent(ua).IsBot, "expected bot: %q", ua)
	}

	for _, ua := range []string{uaWinChrome, uaIPhone, uaIPad, uaMacSafari} {
		assert.False(t, ClassifyUserAgent(ua).IsBot, "expected human: %q", ua)
	}
}

func TestIsBot_CaseInsensitive(t *testing.T) {
	assert.True(t, IsBot("GOOGLEBOT"))
	assert.True(t, IsBot("Mozilla/5.0 (compatible; YandexBot/3.0)"))
	assert.False(t, IsBot(""))
}

func TestClassifyUserAgent_Deterministic(t *testing.T) {
	first := ClassifyUserAgent(uaPixel)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyUserAgent(uaPixel))
	}
}
