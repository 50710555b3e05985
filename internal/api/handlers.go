package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stolik/internal/models"
	"stolik/internal/service"

	"github.com/rs/zerolog"
)

// bookingResponse is a stored booking as returned to clients.
type bookingResponse struct {
	*models.Booking
	State string `json:"state"`
	URL   string `json:"url"`
}

func newBookingResponse(b *models.Booking) bookingResponse {
	return bookingResponse{Booking: b, State: b.State(), URL: b.URL()}
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBookingInput
	if err := decodeBody(r, &in, false); err != nil {
		writeProblem(w, http.StatusBadRequest, service.KindValidation.String(), err.Error())
		return
	}

	booking, err := s.bookings.CreateBooking(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", booking.URL())
	writeJSON(w, http.StatusCreated, newBookingResponse(booking))
}

func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r.URL.Query())
	if err != nil {
		writeProblem(w, http.StatusBadRequest, service.KindValidation.String(), err.Error())
		return
	}

	bookings, err := s.bookings.QueryBookings(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, newBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(booking))
}

// handleUpdate edits a booking, or marks the arrival with ?entrance=true.
func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entrance := false
	if raw := strings.TrimSpace(r.URL.Query().Get("entrance")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, service.KindValidation.String(), "entrance: must be true or false")
			return
		}
		entrance = parsed
	}

	var (
		booking *models.Booking
		err     error
	)
	if entrance {
		booking, err = s.bookings.MarkArrival(r.Context(), id)
	} else {
		var in service.EditBookingInput
		if err := decodeBody(r, &in, true); err != nil {
			writeProblem(w, http.StatusBadRequest, service.KindValidation.String(), err.Error())
			return
		}
		booking, err = s.bookings.EditBooking(r.Context(), id, in)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(booking))
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.bookings.DeleteBooking(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) parseFilter(q url.Values) (models.BookingFilter, error) {
	var (
		filter models.BookingFilter
		err    error
	)
	if filter.UserID, err = queryID(q, "user"); err != nil {
		return filter, err
	}
	if filter.RestaurantID, err = queryID(q, "rest"); err != nil {
		return filter, err
	}
	if filter.TableID, err = queryID(q, "table"); err != nil {
		return filter, err
	}
	if filter.BookingFrom, err = s.queryInstant(q, "begin"); err != nil {
		return filter, err
	}
	if filter.BookingTo, err = s.queryInstant(q, "end"); err != nil {
		return filter, err
	}
	if filter.ArrivalFrom, err = s.queryInstant(q, "arrival_begin"); err != nil {
		return filter, err
	}
	if filter.ArrivalTo, err = s.queryInstant(q, "arrival_end"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryID(q url.Values, name string) (*int64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: must be an integer id", name)
	}
	return &id, nil
}

func (s *HTTPServer) queryInstant(q url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	at, err := models.ParseInstant(raw, s.location)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	return &at, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, service.KindValidation.String(), "id: must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON object. With allowEmpty an empty body decodes to
// the zero value.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindNoOp:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindImmutable:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	status := statusForKind(kind)

	detail := http.StatusText(status)
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		detail = svcErr.Detail
		if svcErr.Field != "" {
			detail = svcErr.Field + ": " + detail
		}
	}

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", kind.String()).Msg("Booking request failed")
	}
	if kind == service.KindUnknown {
		writeProblem(w, status, "internal", detail)
		return
	}
	writeProblem(w, status, kind.String(), detail)
}
