package device

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/snapguard/internal/ir"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want ir.DeviceType
	}{
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148", ir.DeviceMobile},
		{"ipod", "Mozilla/5.0 (iPod touch; CPU iPhone OS 12_0 like Mac OS X)", ir.DeviceMobile},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36", ir.DeviceMobile},
		{"android tablet", "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", ir.DeviceTablet},
		{"ipad with mobile token", "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148", ir.DeviceTablet},
		{"kindle silk", "Mozilla/5.0 (Linux; U; en-us; KFAPWI Build/JDQ39) AppleWebKit/535.19 Silk/3.13 Safari/535.19 Silk-Accelerated=true", ir.DeviceTablet},
		{"playbook", "Mozilla/5.0 (PlayBook; U; RIM Tablet OS 2.1.0; en-US)", ir.DeviceTablet},
		{"blackberry", "BlackBerry9700/5.0.0.351 Profile/MIDP-2.1", ir.DeviceMobile},
		{"opera mini", "Opera/9.80 (J2ME/MIDP; Opera Mini/9.80 (S60; SymbOS; Opera Mobi/23.348; U; en) Presto/2.5.25", ir.DeviceMobile},
		{"webos", "Mozilla/5.0 (webOS/1.4.0; U; en-US) AppleWebKit/532.2 Pre/1.1", ir.DeviceMobile},
		{"windows desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", ir.DeviceDesktop},
		{"mac desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Safari/605.1.15", ir.DeviceDesktop},
		{"lowercase mobile is not mobile", "curl/8.0 automobile", ir.DeviceDesktop},
		{"empty", "", ir.DeviceDesktop},
		{"garbage", "???", ir.DeviceDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ua))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	ua := "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) Mobile/15E148"
	first := Classify(ua)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Classify(ua))
	}
}

func TestClassify_NeverUnknown(t *testing.T) {
	for _, ua := range []string{"", " ", "\x00", "Mozilla", "UNKNOWN"} {
		assert.NotEqual(t, ir.DeviceUnknown, Classify(ua))
	}
}

func TestIsAndroidTablet(t *testing.T) {
	assert.True(t, isAndroidTablet("Linux; Android 13; Tab"))
	assert.False(t, isAndroidTablet("Linux; Android 13; Pixel Mobile"))
	assert.True(t, isAndroidTablet("ANDROID"))
	assert.False(t, isAndroidTablet("iPhone"))
	// an earlier mobi does not disqualify a later android token
	assert.True(t, isAndroidTablet("mobi Android 13"))
}
