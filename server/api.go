package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cepro/metersim/repository"
	"github.com/julienschmidt/httprouter"
)

const (
	defaultReadingsLimit      = 100
	defaultMeterReadingsLimit = 50
	maxLimit                  = 10000
)

// Store serves the stored readings.
type Store interface {
	Readings(ctx context.Context, limit int) ([]repository.StoredReading, error)
	MeterReadings(ctx context.Context, meterID string, limit int) ([]repository.StoredReading, error)
	ReadingsBetween(ctx context.Context, start, end time.Time, meterID string) ([]repository.StoredReading, error)
	AddReading(ctx context.Context, meterID string, reading float64, t time.Time) (repository.StoredReading, error)
	LatestReading(ctx context.Context, meterID string) (repository.StoredReading, bool, error)
	Statistics(ctx context.Context, meterID string) (repository.Statistics, error)
	MeterIDs(ctx context.Context) ([]string, error)
}

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type newReadingRequest struct {
	MeterID string   `json:"meter_id"`
	Reading *float64 `json:"reading"`
}

func (s *Server) getReadings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, err := parseLimit(r, defaultReadingsLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	readings, err := s.store.Readings(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, http.StatusOK, readings)
}

func (s *Server) getMeterReadings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit, err := parseLimit(r, defaultMeterReadingsLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	readings, err := s.store.MeterReadings(r.Context(), params.ByName("meter_id"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, http.StatusOK, readings)
}

func (s *Server) getReadingsBetween(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	if query.Get("start") == "" || query.Get("end") == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("start and end time parameters are required"))
		return
	}
	start, err := time.Parse(time.RFC3339Nano, query.Get("start"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("start must be an ISO-8601 time"))
		return
	}
	end, err := time.Parse(time.RFC3339Nano, query.Get("end"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("end must be an ISO-8601 time"))
		return
	}
	if end.Before(start) {
		s.writeError(w, http.StatusBadRequest, errors.New("end is before start"))
		return
	}

	readings, err := s.store.ReadingsBetween(r.Context(), start, end, query.Get("meter_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, http.StatusOK, readings)
}

func (s *Server) postReading(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req newReadingRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}
	if req.MeterID == "" || req.Reading == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("meter_id and reading are required"))
		return
	}
	if *req.Reading < 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("reading must not be negative"))
		return
	}

	stored, err := s.store.AddReading(r.Context(), req.MeterID, *req.Reading, time.Now())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, http.StatusCreated, stored)
}

func (s *Server) getLatestReading(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	reading, found, err := s.store.LatestReading(r.Context(), params.ByName("meter_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		s.writeData(w, http.StatusOK, nil)
		return
	}
	s.writeData(w, http.StatusOK, reading)
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	stats, err := s.store.Statistics(r.Context(), params.ByName("meter_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, http.StatusOK, stats)
}

func (s *Server) getMeters(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	meterIDs, err := s.store.MeterIDs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, http.StatusOK, meterIDs)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.hub.Count(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// parseLimit reads the optional `limit` query parameter.
func parseLimit(r *http.Request, defaultLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxLimit {
		return 0, errors.New("limit must be a positive integer no greater than " + strconv.Itoa(maxLimit))
	}
	return limit, nil
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, dataResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
