package main

import (
	"encoding/json"
	"net/http"

	"supportchat/internal/metrics"
	"supportchat/internal/service"
	"supportchat/internal/tracing"

	"github.com/sirupsen/logrus"
)

// metricsResponse adds the live queue snapshot to the registry dump
type metricsResponse struct {
	metrics.Snapshot
	Notifications interface{} `json:"notifications"`
}

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())

		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			service.LogFieldTraceID:   requestInfo.TraceID,
			service.LogFieldEndpoint:  "/metrics",
		}).Debug("Serving metrics endpoint")

		body := metricsResponse{
			Snapshot:      metrics.GetAllMetrics(),
			Notifications: s.chat.NotificationStats(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(body); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldTraceID:   requestInfo.TraceID,
				"error":                   err,
			}).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
