package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stolik/internal/domain"
	"stolik/internal/metrics"
	"stolik/internal/models"

	"github.com/rs/zerolog"
)

// HTTPClient talks to the restaurant directory service.
type HTTPClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zerolog.Logger
}

type profileResponse struct {
	ID                int64   `json:"id"`
	FirstOpeningHour  *int    `json:"first_opening_hour"`
	FirstClosingHour  *int    `json:"first_closing_hour"`
	SecondOpeningHour *int    `json:"second_opening_hour"`
	SecondClosingHour *int    `json:"second_closing_hour"`
	ClosedDays        []int   `json:"closed_days"`
	OccupationTime    float64 `json:"occupation_time"`
	Timezone          string  `json:"timezone"`
}

func (r profileResponse) toModel() *models.RestaurantProfile {
	profile := &models.RestaurantProfile{
		ID:              r.ID,
		ClosedWeekdays:  r.ClosedDays,
		OccupationHours: r.OccupationTime,
		Timezone:        r.Timezone,
	}
	if r.FirstOpeningHour != nil && r.FirstClosingHour != nil {
		profile.Openings = append(profile.Openings, models.OpeningInterval{OpenHour: *r.FirstOpeningHour, CloseHour: *r.FirstClosingHour})
	}
	if r.SecondOpeningHour != nil && r.SecondClosingHour != nil {
		profile.Openings = append(profile.Openings, models.OpeningInterval{OpenHour: *r.SecondOpeningHour, CloseHour: *r.SecondClosingHour})
	}
	return profile
}

// NewHTTPClient constructs a client for baseURL. Every call is bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *HTTPClient) GetProfile(ctx context.Context, restaurantID int64) (*models.RestaurantProfile, error) {
	endpoint := fmt.Sprintf("%s/restaurants/%d", c.baseURL, restaurantID)
	var resp profileResponse
	if err := c.doGet(ctx, "profile", endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.ID != 0 && resp.ID != restaurantID {
		return nil, fmt.Errorf("%w: profile for %d returned id %d", domain.ErrDirectoryUnavailable, restaurantID, resp.ID)
	}
	profile := resp.toModel()
	profile.ID = restaurantID
	if profile.Occupation() <= 0 {
		err := fmt.Errorf("%w: profile for %d has no occupation time", domain.ErrDirectoryUnavailable, restaurantID)
		c.logger.Warn().Err(err).Msg("Malformed directory profile")
		return nil, err
	}
	return profile, nil
}

func (c *HTTPClient) GetTables(ctx context.Context, restaurantID int64) ([]models.Table, error) {
	endpoint := fmt.Sprintf("%s/restaurants/%d/tables", c.baseURL, restaurantID)
	var tables []models.Table
	if err := c.doGet(ctx, "tables", endpoint, &tables); err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].RestaurantID == 0 {
			tables[i].RestaurantID = restaurantID
		}
	}
	return tables, nil
}

func (c *HTTPClient) doGet(ctx context.Context, call, endpoint string, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ObserveDirectory(call, err, time.Since(start))
		if err != nil {
			c.logger.Warn().Err(err).Str("call", call).Str("url", endpoint).Msg("Directory request failed")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d", domain.ErrDirectoryUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", domain.ErrDirectoryUnavailable, err)
	}
	return nil
}
