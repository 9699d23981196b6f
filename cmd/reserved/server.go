package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirkobrombin/go-reserve/v1/booking"
	warperrors "github.com/mirkobrombin/go-reserve/v1/errors"
	"github.com/mirkobrombin/go-reserve/v1/events"
)

type server struct {
	orch    *booking.Orchestrator
	catalog booking.Catalog
	bus     events.Bus
	reg     *prometheus.Registry
	logger  *slog.Logger
}

type bookRequest struct {
	UserID  string   `json:"user_id"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	SeatIDs []string `json:"seat_ids"`
}

type seatView struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Status string `json:"status"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/shows/{id}/bookings", s.bookSeats).Methods(http.MethodPost)
	r.HandleFunc("/shows/{id}/seats", s.showSeats).Methods(http.MethodGet)
	r.HandleFunc("/bookings", s.listBookings).Methods(http.MethodGet)
	r.HandleFunc("/bookings/{id}", s.getBooking).Methods(http.MethodGet)
	r.HandleFunc("/bookings/{id}", s.cancelBooking).Methods(http.MethodDelete)
	if s.bus != nil {
		r.HandleFunc("/events/sse", events.SSEHandler(s.bus)).Methods(http.MethodGet)
		r.HandleFunc("/events/ws", events.WebSocketHandler(s.bus))
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

func (s *server) bookSeats(w http.ResponseWriter, r *http.Request) {
	showID := mux.Vars(r)["id"]
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "user_id is required"})
		return
	}
	show, err := s.catalog.Show(r.Context(), showID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	user := &booking.User{ID: req.UserID, Name: req.Name, Email: req.Email}
	b, err := s.orch.BookSeats(r.Context(), user, show, req.SeatIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b.Record())
}

func (s *server) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.CancelBooking(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.orch.Booking(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) getBooking(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Booking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) listBookings(w http.ResponseWriter, r *http.Request) {
	rs, err := s.orch.ListBookings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *server) showSeats(w http.ResponseWriter, r *http.Request) {
	show, err := s.catalog.Show(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	seats := show.Seats()
	out := make([]seatView, len(seats))
	for i, st := range seats {
		out[i] = seatView{ID: st.ID, Number: st.Number, Status: st.Status().String()}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeError maps booking errors to HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var (
		busy     *booking.SeatLockContentionError
		gone     *booking.SeatUnavailableError
		unknown  *booking.UnknownSeatError
		missing  *booking.BookingNotFoundError
		badState *booking.InvalidTransitionError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &busy), errors.As(err, &gone), errors.As(err, &badState):
		status = http.StatusConflict
	case errors.As(err, &missing), errors.Is(err, booking.ErrShowNotFound):
		status = http.StatusNotFound
	case errors.As(err, &unknown),
		errors.Is(err, booking.ErrNoSeats),
		errors.Is(err, booking.ErrDuplicateSeat),
		errors.Is(err, booking.ErrNilUser),
		errors.Is(err, booking.ErrNilShow):
		status = http.StatusBadRequest
	case errors.Is(err, warperrors.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, warperrors.ErrConnectionClosed):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
