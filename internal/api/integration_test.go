package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stolik/internal/config"
	"stolik/internal/database"
	"stolik/internal/directory"
	"stolik/internal/events"
	"stolik/internal/models"
	"stolik/internal/repository"
	"stolik/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordedEvents) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *recordedEvents) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

// newIntegrationServer wires the full stack on sqlite, fixture directory and
// miniredis. The clock is Tuesday 2020-11-17 10:00 UTC.
func newIntegrationServer(t *testing.T) (*httptest.Server, *recordedEvents) {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "bookings.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	static, err := directory.LoadStatic(filepath.Join("..", "directory", "testdata", "fixtures.yaml"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := repository.NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	dir := directory.NewCached(static, directory.NewRedisCache(client), time.Minute, &logger)
	locker := repository.NewFailoverLocker(repository.NewRedisLocker(client, &logger), repository.NewMemoryLocker(), &logger)

	recorded := &recordedEvents{}
	bus := events.NewEventBus()
	bus.SubscribeAll(recorded.handle)

	now := time.Date(2020, 11, 17, 10, 0, 0, 0, time.UTC)
	resolver := service.NewAvailabilityResolver(dir, time.UTC, &logger)
	svc := service.NewBookingService(db, service.NewAllocator(resolver, dir, db, &logger), &logger,
		service.WithLocker(locker, 5*time.Second, 2*time.Second),
		service.WithEventPublisher(bus),
		service.WithClock(func() time.Time { return now }),
	)

	cfg := config.APIConfig{}
	server := NewHTTPServer(&cfg, svc, db, time.UTC, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, recorded
}

type bookingBody struct {
	ID        int64      `json:"id"`
	TableID   int64      `json:"table_id"`
	PartySize int        `json:"number_of_people"`
	BookingAt time.Time  `json:"booking_datetime"`
	ArrivalAt *time.Time `json:"entrance_datetime"`
	State     string     `json:"state"`
	URL       string     `json:"url"`
}

func call(t *testing.T, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	ts, recorded := newIntegrationServer(t)

	create := func(party int, when string) (*http.Response, bookingBody) {
		resp, data := call(t, http.MethodPost, ts.URL+"/bookings",
			fmt.Sprintf(`{"user_id":1,"restaurant_id":3,"number_of_people":%d,"booking_datetime":%q}`, party, when))
		var b bookingBody
		if resp.StatusCode == http.StatusCreated {
			require.NoError(t, json.Unmarshal(data, &b))
		}
		return resp, b
	}

	resp, first := create(4, "2020-11-17T11:30:00")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int64(5), first.TableID)
	assert.Equal(t, fmt.Sprintf("/bookings/%d", first.ID), first.URL)
	assert.Equal(t, models.StateConfirmed, first.State)

	resp, second := create(4, "2020-11-17T12:00:00")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int64(4), second.TableID)

	resp, _ = create(4, "2020-11-17T12:15:00")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = create(4, "2020-11-17T09:00:00")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Restaurant 1 opens at noon
	resp, data := call(t, http.MethodPost, ts.URL+"/bookings",
		`{"user_id":1,"restaurant_id":1,"number_of_people":2,"booking_datetime":"2020-11-17T11:30:00"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(data))

	// Unknown restaurant is an upstream failure
	resp, _ = call(t, http.MethodPost, ts.URL+"/bookings",
		`{"user_id":1,"restaurant_id":42,"number_of_people":2,"booking_datetime":"2020-11-17T11:30:00"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Shrinking the party moves it to the two-seat table
	resp, data = call(t, http.MethodPut, ts.URL+first.URL, `{"number_of_people":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var edited bookingBody
	require.NoError(t, json.Unmarshal(data, &edited))
	assert.Equal(t, int64(6), edited.TableID)

	resp, _ = call(t, http.MethodPut, ts.URL+first.URL, `{"number_of_people":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = call(t, http.MethodPut, ts.URL+first.URL+"?entrance=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var arrived bookingBody
	require.NoError(t, json.Unmarshal(data, &arrived))
	assert.Equal(t, models.StateArrived, arrived.State)
	require.NotNil(t, arrived.ArrivalAt)

	resp, _ = call(t, http.MethodPut, ts.URL+first.URL+"?entrance=true", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, http.MethodDelete, ts.URL+first.URL, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data = call(t, http.MethodGet, ts.URL+"/bookings?rest=3&begin=2020-11-17T12:00:00Z", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []bookingBody
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, second.ID, listed[0].ID)

	resp, _ = call(t, http.MethodDelete, ts.URL+second.URL, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = call(t, http.MethodGet, ts.URL+second.URL, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, []string{
		models.EventBookingCreated,
		models.EventBookingCreated,
		models.EventBookingUpdated,
		models.EventBookingArrivalMarked,
		models.EventBookingDeleted,
	}, recorded.list())

	resp, _ = call(t, http.MethodGet, ts.URL+"/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConcurrentCreatesOverHTTP(t *testing.T) {
	ts, _ := newIntegrationServer(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(ts.URL+"/bookings", "application/json",
				strings.NewReader(`{"user_id":1,"restaurant_id":3,"number_of_people":4,"booking_datetime":"2020-11-17T20:00:00"}`))
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Restaurant 3 has two tables that seat four
	assert.Equal(t, 2, statuses[http.StatusCreated])
	assert.Equal(t, 6, statuses[http.StatusConflict])
}
