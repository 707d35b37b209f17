package api

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNets(t *testing.T, cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, len(cidrs))
	for i, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		require.NoError(t, err)
		nets[i] = n
	}
	return nets
}

func TestGetClientIP(t *testing.T) {
	trusted := mustNets(t, "10.0.0.0/8")

	cases := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{name: "no headers", remote: "198.51.100.7:4000", want: "198.51.100.7"},
		{name: "untrusted peer spoofs xff", remote: "198.51.100.7:4000", xff: "203.0.113.1", want: "198.51.100.7"},
		{name: "untrusted peer spoofs real ip", remote: "198.51.100.7:4000", xri: "203.0.113.1", want: "198.51.100.7"},
		{name: "trusted proxy", remote: "10.0.0.2:80", xff: "203.0.113.1", want: "203.0.113.1"},
		{name: "trusted proxy chain", remote: "10.0.0.2:80", xff: "203.0.113.1, 10.0.0.9", want: "203.0.113.1"},
		{name: "client prepends a forged hop", remote: "10.0.0.2:80", xff: "192.0.2.55, 203.0.113.1", want: "203.0.113.1"},
		{name: "trusted proxy real ip", remote: "10.0.0.2:80", xri: "203.0.113.1", want: "203.0.113.1"},
		{name: "trusted proxy without headers", remote: "10.0.0.2:80", want: "10.0.0.2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				r.Header.Set("X-Real-IP", tc.xri)
			}

			assert.Equal(t, tc.want, getClientIP(r, trusted))
		})
	}
}

func TestGetClientIPWithoutTrustedProxies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	r.RemoteAddr = "10.0.0.2:80"
	r.Header.Set("X-Forwarded-For", "203.0.113.1")

	assert.Equal(t, "10.0.0.2", getClientIP(r, nil))
}

func TestIdleLimitersAreEvicted(t *testing.T) {
	clock := time.Date(2027, 2, 25, 9, 0, 0, 0, time.UTC)
	ipl := NewIPRateLimiter(60)
	ipl.now = func() time.Time { return clock }
	ipl.lastSweep = clock

	first := ipl.GetLimiter("203.0.113.1")
	ipl.GetLimiter("203.0.113.2")
	require.Len(t, ipl.limiters, 2)

	clock = clock.Add(limiterIdleTTL / 2)
	assert.Same(t, first, ipl.GetLimiter("203.0.113.1"), "an active client keeps its bucket")

	clock = clock.Add(limiterIdleTTL / 2)
	ipl.GetLimiter("203.0.113.3")
	assert.Len(t, ipl.limiters, 2)
	assert.NotContains(t, ipl.limiters, "203.0.113.2")
	assert.Contains(t, ipl.limiters, "203.0.113.1")

	clock = clock.Add(2 * limiterIdleTTL)
	ipl.GetLimiter("203.0.113.4")
	assert.Len(t, ipl.limiters, 1)
	assert.NotSame(t, first, ipl.GetLimiter("203.0.113.1"))
}
