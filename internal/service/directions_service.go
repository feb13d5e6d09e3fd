package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/cache"
)

const mapboxBaseURL = "https://api.mapbox.com"

var (
	coordinatePattern = regexp.MustCompile(`^-?\d+(\.\d+)?,-?\d+(\.\d+)?$`)
	languagePattern   = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
)

// DirectionsService proxies Mapbox walking directions through the cache
type DirectionsService struct {
	store   cache.Store
	client  *http.Client
	baseURL string
	token   string
	ttl     time.Duration
	log     *zap.Logger
}

// NewDirectionsService creates a new directions service. An empty baseURL
// means the public Mapbox API.
func NewDirectionsService(store cache.Store, client *http.Client, baseURL, token string, ttl time.Duration, log *zap.Logger) *DirectionsService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = mapboxBaseURL
	}
	return &DirectionsService{
		store:   store,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ttl:     ttl,
		log:     log,
	}
}

// ValidateDirections checks points ("lon,lat;lon,lat", 2 to 25 pairs) and
// the optional language code
func ValidateDirections(points, language string) error {
	details := map[string]string{}

	parts := strings.Split(points, ";")
	if len(parts) < 2 || len(parts) > 25 {
		details["points"] = `must be a semicolon separated list of 2 to 25 "longitude,latitude" pairs`
	} else {
		for _, p := range parts {
			if !coordinatePattern.MatchString(strings.TrimSpace(p)) {
				details["points"] = fmt.Sprintf("invalid coordinate %q", p)
				break
			}
		}
	}
	if language != "" && !languagePattern.MatchString(language) {
		details["language"] = `must be a language code like "en" or "en-US"`
	}

	if len(details) > 0 {
		return apperr.Validation("invalid directions query", details)
	}
	return nil
}

// Directions returns the raw Mapbox response for points
func (s *DirectionsService) Directions(ctx context.Context, points, language string) (json.RawMessage, error) {
	if err := ValidateDirections(points, language); err != nil {
		return nil, err
	}
	if s.token == "" {
		return nil, apperr.Internal(apperr.SubsystemMapbox, "mapbox access token is not configured")
	}

	points = strings.ReplaceAll(points, " ", "")

	var route json.RawMessage
	err := s.store.GetOrSet(ctx, cache.DirectionsKey(points, language), &route, s.ttl, func(ctx context.Context) (any, error) {
		return s.fetch(ctx, points, language)
	})
	if err != nil {
		return nil, err
	}
	return route, nil
}

func (s *DirectionsService) fetch(ctx context.Context, points, language string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("geometries", "geojson")
	query.Set("steps", "true")
	query.Set("overview", "full")
	query.Set("access_token", s.token)
	if language != "" {
		query.Set("language", language)
	}
	endpoint := fmt.Sprintf("%s/directions/v5/mapbox/walking/%s?%s", s.baseURL, points, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemMapbox, err, "build directions request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemMapbox, err, "directions request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemMapbox, err, "read directions")
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Warn("mapbox directions failed", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, apperr.Internal(apperr.SubsystemMapbox, "directions request returned %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, apperr.Internal(apperr.SubsystemMapbox, "directions response is not json")
	}
	return json.RawMessage(body), nil
}
