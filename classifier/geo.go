package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"printshop/analytics/metrics"
	"printshop/analytics/models"
)

// LocalLocation is returned for private and loopback addresses.
var LocalLocation = models.GeoLocation{
	Country:     "Local",
	CountryCode: "LO",
	City:        "Local",
	Region:      "Local",
}

type GeoOptions struct {
	// URLTemplate receives the IP through a single %s verb.
	URLTemplate   string
	CacheTTL      time.Duration
	RatePerMinute int
	Timeout       time.Duration
}

// GeoResolver turns client IPs into coarse locations using an external
// lookup service. Results are cached per IP and upstream calls are rate
// limited. Resolve never fails: any problem yields an empty location.
type GeoResolver struct {
	client  *http.Client
	cache   GeoCache
	limiter *rate.Limiter
	opts    GeoOptions
	logger  *zap.Logger
}

func NewGeoResolver(opts GeoOptions, cache GeoCache, logger *zap.Logger) *GeoResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 45
	}
	if cache == nil {
		cache = NopGeoCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeoResolver{
		client:  &http.Client{Timeout: opts.Timeout},
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1),
		opts:    opts,
		logger:  logger,
	}
}

// IsLocalIP reports loopback, private, link-local and unspecified addresses.
func IsLocalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
}

func (r *GeoResolver) Resolve(ctx context.Context, rawIP string) models.GeoLocation {
	ip := net.ParseIP(strings.TrimSpace(rawIP))
	if ip == nil {
		return models.GeoLocation{}
	}
	if IsLocalIP(ip) {
		metrics.GeoLookups.WithLabelValues("local").Inc()
		return LocalLocation
	}
	key := ip.String()

	if loc, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Debug("geo cache read failed", zap.String("ip", key), zap.Error(err))
	} else if ok {
		metrics.GeoLookups.WithLabelValues("cache_hit").Inc()
		return loc
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		metrics.GeoLookups.WithLabelValues("rate_limited").Inc()
		r.logger.Debug("geo lookup skipped by rate limiter", zap.String("ip", key), zap.Error(err))
		return models.GeoLocation{}
	}

	loc, err := r.lookup(ctx, key)
	if err != nil {
		metrics.GeoLookups.WithLabelValues("error").Inc()
		r.logger.Debug("geo lookup failed", zap.String("ip", key), zap.Error(err))
		return models.GeoLocation{}
	}
	metrics.GeoLookups.WithLabelValues("upstream").Inc()

	if err := r.cache.Set(ctx, key, loc, r.opts.CacheTTL); err != nil {
		r.logger.Debug("geo cache write failed", zap.String("ip", key), zap.Error(err))
	}
	return loc
}

func (r *GeoResolver) lookup(ctx context.Context, ip string) (models.GeoLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.opts.URLTemplate, ip), nil)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("failed to build geo request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.GeoLocation{}, fmt.Errorf("geo service returned %s", resp.Status)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.GeoLocation{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return models.GeoLocation{}, fmt.Errorf("geo service status %q", body.Status)
	}

	return models.GeoLocation{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
		Region:      body.RegionName,
	}, nil
}
