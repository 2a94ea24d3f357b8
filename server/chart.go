package server

import (
	"errors"
	"fmt"
	"image/color"
	"net/http"

	"github.com/cepro/metersim/repository"
	"github.com/julienschmidt/httprouter"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	chartWidth  = 8 * vg.Inch
	chartHeight = 4 * vg.Inch
)

// getChart renders the recent readings of a meter as a PNG line chart.
func (s *Server) getChart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	meterID := params.ByName("meter_id")
	limit, err := parseLimit(r, defaultReadingsLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	readings, err := s.store.MeterReadings(r.Context(), meterID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(readings) == 0 {
		s.writeError(w, http.StatusNotFound, errors.New("no readings for meter"))
		return
	}

	p, err := readingsPlot(meterID, readings)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writer, err := p.WriterTo(chartWidth, chartHeight, "png")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("render chart: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, err = writer.WriteTo(w)
	if err != nil {
		s.logger.Warn("Failed to write chart", "meter_id", meterID, "error", err)
	}
}

// readingsPlot plots the readings, which are ordered newest first, against time.
func readingsPlot(meterID string, readings []repository.StoredReading) (*plot.Plot, error) {
	points := make(plotter.XYs, len(readings))
	for i, reading := range readings {
		// reverse so that time runs left to right
		point := &points[len(readings)-1-i]
		point.X = float64(reading.Time.Unix())
		point.Y = reading.Reading
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Meter %s", meterID)
	p.X.Label.Text = "Time (UTC)"
	p.Y.Label.Text = "Reading (kWh)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "Jan 2 15:04"}
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(points)
	if err != nil {
		return nil, fmt.Errorf("plot readings: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	return p, nil
}
