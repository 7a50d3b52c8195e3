package classifier

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"printshop/analytics/models"
)

type geoUpstream struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newGeoUpstream(t *testing.T, handler http.HandlerFunc) *geoUpstream {
	t.Helper()
	u := &geoUpstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *geoUpstream) resolver(cache GeoCache, timeout time.Duration) *GeoResolver {
	return NewGeoResolver(GeoOptions{
		URLTemplate:   u.server.URL + "/json/%s",
		CacheTTL:      time.Hour,
		RatePerMinute: 600,
		Timeout:       timeout,
	}, cache, zap.NewNop())
}

func successHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"success","country":"Germany","countryCode":"DE","regionName":"Berlin","city":"Berlin"}`)
}

func TestResolve_LocalAddressesSkipUpstream(t *testing.T) {
	upstream := newGeoUpstream(t, successHandler)
	r := upstream.resolver(nil, time.Second)

	for _, ip := range []string{"127.0.0.1", "::1", "192.168.1.20", "10.0.0.7", "172.16.4.1", "fe80::1", "0.0.0.0"} {
		t.Run(ip, func(t *testing.T) {
			assert.Equal(t, LocalLocation, r.Resolve(context.Background(), ip))
		})
	}
	assert.Equal(t, int32(0), upstream.calls.Load())
}

func TestResolve_PublicAddress(t *testing.T) {
	upstream := newGeoUpstream(t, successHandler)
	r := upstream.resolver(nil, time.Second)

	loc := r.Resolve(context.Background(), "8.8.8.8")
	assert.Equal(t, models.GeoLocation{Country: "Germany", CountryCode: "DE", City: "Berlin", Region: "Berlin"}, loc)
	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestResolve_FailuresYieldEmptyLocation(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"fail status", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status":"fail","message":"reserved range"}`)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status":`)
		}},
		{"slow upstream", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(300 * time.Millisecond)
			successHandler(w, nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newGeoUpstream(t, tt.handler)
			r := upstream.resolver(nil, 100*time.Millisecond)

			loc := r.Resolve(context.Background(), "8.8.4.4")
			assert.True(t, loc.Empty())
		})
	}
}

func TestResolve_UnparsableIP(t *testing.T) {
	upstream := newGeoUpstream(t, successHandler)
	r := upstream.resolver(nil, time.Second)

	assert.True(t, r.Resolve(context.Background(), "not-an-ip").Empty())
	assert.True(t, r.Resolve(context.Background(), "").Empty())
	assert.Equal(t, int32(0), upstream.calls.Load())
}

func TestResolve_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	upstream := newGeoUpstream(t, successHandler)
	r := upstream.resolver(NewRedisGeoCache(client), time.Second)
	ctx := context.Background()

	first := r.Resolve(ctx, "1.1.1.1")
	second := r.Resolve(ctx, "1.1.1.1")

	assert.Equal(t, first, second)
	assert.Equal(t, "DE", second.CountryCode)
	assert.Equal(t, int32(1), upstream.calls.Load())

	require.True(t, mr.Exists("geo:1.1.1.1"))
	ttl := mr.TTL("geo:1.1.1.1")
	assert.Equal(t, time.Hour, ttl)
}

func TestResolve_CacheUnavailableStillResolves(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	upstream := newGeoUpstream(t, successHandler)
	r := upstream.resolver(NewRedisGeoCache(client), time.Second)

	loc := r.Resolve(context.Background(), "9.9.9.9")
	assert.Equal(t, "Germany", loc.Country)
}

func TestRedisGeoCache_Miss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisGeoCache(client)
	_, ok, err := cache.Get(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsLocalIP(t *testing.T) {
	assert.True(t, IsLocalIP(net.ParseIP("127.0.0.1")))
	assert.True(t, IsLocalIP(net.ParseIP("fc00::1")))
	assert.False(t, IsLocalIP(net.ParseIP("8.8.8.8")))
	assert.False(t, IsLocalIP(net.ParseIP("2001:4860:4860::8888")))
}
