package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"stolik/internal/domain"
	"stolik/internal/models"

	"gopkg.in/yaml.v2"
)

// Fixtures is the on-disk format of a static directory.
type Fixtures struct {
	Failing     bool                `yaml:"failing"`
	Restaurants []RestaurantFixture `yaml:"restaurants"`
}

type RestaurantFixture struct {
	models.RestaurantProfile `yaml:",inline"`
	Tables                   []models.Table `yaml:"tables"`
}

// Static is a deterministic in-memory directory. Unknown restaurants and a
// failing directory both report ErrDirectoryUnavailable.
type Static struct {
	mu       sync.RWMutex
	profiles map[int64]models.RestaurantProfile
	tables   map[int64][]models.Table
	failing  bool
}

func NewStatic(fixtures Fixtures) *Static {
	s := &Static{
		profiles: make(map[int64]models.RestaurantProfile),
		tables:   make(map[int64][]models.Table),
		failing:  fixtures.Failing,
	}
	for _, r := range fixtures.Restaurants {
		s.Put(r.RestaurantProfile, r.Tables)
	}
	return s
}

// LoadStatic reads fixtures from a YAML file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory fixtures: %w", err)
	}

	var fixtures Fixtures
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parse directory fixtures: %w", err)
	}

	seen := make(map[int64]bool)
	for _, r := range fixtures.Restaurants {
		if r.ID == 0 {
			return nil, fmt.Errorf("restaurant fixture has invalid ID 0")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate restaurant ID found: %d", r.ID)
		}
		seen[r.ID] = true
		if r.Occupation() <= 0 {
			return nil, fmt.Errorf("restaurant %d: occupation_hours must be positive", r.ID)
		}
	}

	return NewStatic(fixtures), nil
}

// Put replaces the profile and tables of one restaurant.
func (s *Static) Put(profile models.RestaurantProfile, tables []models.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()

	own := make([]models.Table, len(tables))
	for i, t := range tables {
		t.RestaurantID = profile.ID
		own[i] = t
	}
	s.profiles[profile.ID] = profile
	s.tables[profile.ID] = own
}

// SetFailing makes every following call fail.
func (s *Static) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

func (s *Static) GetProfile(ctx context.Context, restaurantID int64) (*models.RestaurantProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failing {
		return nil, fmt.Errorf("%w: directory is failing", domain.ErrDirectoryUnavailable)
	}
	profile, ok := s.profiles[restaurantID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown restaurant %d", domain.ErrDirectoryUnavailable, restaurantID)
	}
	profile.Openings = append([]models.OpeningInterval(nil), profile.Openings...)
	profile.ClosedWeekdays = append([]int(nil), profile.ClosedWeekdays...)
	return &profile, nil
}

func (s *Static) GetTables(ctx context.Context, restaurantID int64) ([]models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failing {
		return nil, fmt.Errorf("%w: directory is failing", domain.ErrDirectoryUnavailable)
	}
	tables, ok := s.tables[restaurantID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown restaurant %d", domain.ErrDirectoryUnavailable, restaurantID)
	}
	return append([]models.Table(nil), tables...), nil
}
