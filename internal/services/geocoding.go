package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"schoolbus-backend/internal/geo"
)

// ReviewDistanceKm is how far a re-geocoded stop may move before an admin
// should confirm it
const ReviewDistanceKm = 1.0

var ErrNoGeocodeResult = errors.New("no geocoding result")

// HEREGeocodeResponse represents the response from HERE Geocoding API
type HEREGeocodeResponse struct {
	Items []struct {
		Position struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"position"`
		Address struct {
			Label string `json:"label"`
		} `json:"address"`
		Scoring struct {
			QueryScore float64 `json:"queryScore"`
		} `json:"scoring"`
	} `json:"items"`
}

// GeocodeResult describes a student home stop placed from an address
type GeocodeResult struct {
	StudentID     string   `json:"student_id"`
	Address       string   `json:"address"`
	Label         string   `json:"label"`
	OldLatitude   *float64 `json:"old_latitude,omitempty"`
	OldLongitude  *float64 `json:"old_longitude,omitempty"`
	NewLatitude   float64  `json:"new_latitude"`
	NewLongitude  float64  `json:"new_longitude"`
	DistanceMoved float64  `json:"distance_moved_km"`
	NeedsReview   bool     `json:"needs_review"`
}

// HEREGeocodingService places student stops using HERE Maps
type HEREGeocodingService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewHEREGeocodingService(apiKey string) *HEREGeocodingService {
	return &HEREGeocodingService{
		apiKey:     apiKey,
		baseURL:    "https://geocode.search.hereapi.com/v1/geocode",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the service at another endpoint (tests, proxies)
func (gs *HEREGeocodingService) WithBaseURL(baseURL string) *HEREGeocodingService {
	gs.baseURL = baseURL
	return gs
}

// GeocodeAddress returns the best match for a free-form address
func (gs *HEREGeocodingService) GeocodeAddress(ctx context.Context, address string) (lat, lng float64, label string, err error) {
	params := url.Values{}
	params.Add("q", address)
	params.Add("apiKey", gs.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gs.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to build geocoding request: %w", err)
	}

	log.Printf("🌍 Geocoding: %s", address)

	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to make geocoding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, "", fmt.Errorf("geocoding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result HEREGeocodeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, 0, "", fmt.Errorf("failed to parse geocoding response: %w", err)
	}
	if len(result.Items) == 0 {
		return 0, 0, "", fmt.Errorf("%w for address: %s", ErrNoGeocodeResult, address)
	}

	best := result.Items[0]
	if !geo.ValidCoordinate(best.Position.Lat, best.Position.Lng) {
		return 0, 0, "", fmt.Errorf("%w for address: %s", ErrNoGeocodeResult, address)
	}

	log.Printf("   ✅ Found: %.6f, %.6f (confidence: %.2f)", best.Position.Lat, best.Position.Lng, best.Scoring.QueryScore)
	return best.Position.Lat, best.Position.Lng, best.Address.Label, nil
}

// CompareCoordinates reports how far a stop moved and whether that needs a
// second look. A stop without previous coordinates never needs review.
func CompareCoordinates(oldLat, oldLng *float64, newLat, newLng float64) (float64, bool) {
	if !geo.ValidPointer(oldLat, oldLng) {
		return 0, false
	}
	distance := geo.Distance(*oldLat, *oldLng, newLat, newLng)
	return distance, distance > ReviewDistanceKm
}
