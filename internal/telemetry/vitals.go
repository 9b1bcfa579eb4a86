package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxVitalsBody = 16 * 1024

var errMalformedVital = errors.New("malformed web vital")

// WebVital is a single metric report sent by the browser.
type WebVital struct {
	Name           string  `json:"name"`
	Value          float64 `json:"value"`
	ID             string  `json:"id"`
	Delta          float64 `json:"delta"`
	NavigationType string  `json:"navigationType"`
}

// Validate checks the report is usable.
func (v *WebVital) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: name is required", errMalformedVital)
	}
	if v.ID == "" {
		return fmt.Errorf("%w: id is required", errMalformedVital)
	}
	if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
		return fmt.Errorf("%w: value is not finite", errMalformedVital)
	}
	return nil
}

// VitalsHandler accepts fire-and-forget web vitals reports.
// It replies 200 on success and 500 with a generic body when the payload is malformed.
func VitalsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var vital WebVital
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVitalsBody))
		err := dec.Decode(&vital)
		if err == nil {
			err = vital.Validate()
		}
		if err != nil {
			log.Debug().Err(err).Msg("Rejected web vitals report")
			GetMetrics().WebVitalsRejectedTotal.Add(r.Context(), 1)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record metric"})
			return
		}

		GetMetrics().WebVitals.Record(r.Context(), vital.Value, metric.WithAttributes(
			attribute.String("name", vital.Name),
			attribute.String("navigation_type", vital.NavigationType),
		))

		log.Debug().
			Str("name", vital.Name).
			Float64("value", vital.Value).
			Float64("delta", vital.Delta).
			Str("id", vital.ID).
			Str("navigation_type", vital.NavigationType).
			Msg("Web vital")

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
