package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	pkghttp "github.com/zootopia/storefront/pkg/http"
)

func TestExtractClientIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8", "2001:db8::/32", "not-a-cidr"}

	tests := []struct {
		name       string
		config     *pkghttp.IPConfig
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{
			name:       "direct connection ignores spoofed headers",
			config:     pkghttp.NewIPConfig(trusted),
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			xRealIP:    "192.168.1.1",
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			config:     pkghttp.NewIPConfig(trusted),
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 10.0.0.5",
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy skips garbage entries",
			config:     pkghttp.NewIPConfig(trusted),
			remoteAddr: "10.0.0.5:54321",
			xff:        "garbage, 198.51.100.7",
			want:       "198.51.100.7",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			config:     pkghttp.NewIPConfig(trusted),
			remoteAddr: "10.1.2.3:443",
			xRealIP:    "198.51.100.9",
			want:       "198.51.100.9",
		},
		{
			name:       "ipv6 trusted proxy",
			config:     pkghttp.NewIPConfig(trusted),
			remoteAddr: "[2001:db8::1]:8080",
			xff:        "203.0.113.50",
			want:       "203.0.113.50",
		},
		{
			name:       "nil config never trusts headers",
			config:     nil,
			remoteAddr: "127.0.0.1:8080",
			xff:        "1.2.3.4",
			want:       "127.0.0.1",
		},
		{
			name:       "empty config never trusts headers",
			config:     pkghttp.NewIPConfig(nil),
			remoteAddr: "10.0.0.5:1234",
			xff:        "1.2.3.4",
			want:       "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/users/auth", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}
