package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/romanesko/http-mqtt-bridge/bridge"
	"github.com/romanesko/http-mqtt-bridge/interceptors"
	"github.com/romanesko/http-mqtt-bridge/internal/reliability"
)

const (
	maxBodySize = 1 << 20

	// defaultAckTimeoutSeconds applies when ack_timeout is absent
	defaultAckTimeoutSeconds = 5
)

// sendRequest is the POST / body. Unknown fields are ignored.
type sendRequest struct {
	Secret     string   `json:"secret"`
	Topic      string   `json:"topic"`
	AckTopic   *string  `json:"ack_topic"`
	AckTimeout *float64 `json:"ack_timeout"`
	Message    *string  `json:"message"`
}

type sendResponse struct {
	Message string `json:"message"`
}

func (req sendRequest) outbound() bridge.OutboundRequest {
	out := bridge.OutboundRequest{Topic: req.Topic}
	if req.Message != nil {
		out.Payload = []byte(*req.Message)
	}
	if req.AckTopic == nil || *req.AckTopic == "" {
		return out
	}

	seconds := float64(defaultAckTimeoutSeconds)
	if req.AckTimeout != nil {
		seconds = *req.AckTimeout
	}
	out.ReplyTopic = *req.AckTopic
	// A zero Timeout makes the engine apply its configured default, so
	// "ack_timeout": 0 waits that long rather than failing at once.
	out.Timeout = time.Duration(seconds * float64(time.Second))
	return out
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !s.secretMatches(req.Secret) {
		s.writeError(w, http.StatusForbidden, "Wrong secret")
		return
	}
	if req.Topic == "" {
		s.writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.AckTimeout != nil && *req.AckTimeout < 0 {
		s.writeError(w, http.StatusBadRequest, "ack_timeout must not be negative")
		return
	}

	payload, err := s.sender.Send(r.Context(), req.outbound())
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("send failed",
				"topic", req.Topic,
				"error", err,
				"request_id", middleware.GetReqID(r.Context()))
		}
		s.writeError(w, status, message)
		return
	}

	s.writeJSON(w, http.StatusOK, sendResponse{Message: string(payload)})
}

func (s *Server) secretMatches(got string) bool {
	if s.anonymous {
		return true
	}
	if s.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

// statusFor maps a Send error onto the HTTP status and the client message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusRequestTimeout, "Timeout"
	case errors.Is(err, bridge.ErrDuplicateKey):
		return http.StatusConflict, "ack_topic is already awaited by another request"
	case errors.Is(err, bridge.ErrInvalidRequest), errors.Is(err, bridge.ErrInvalidKey):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, interceptors.ErrTopicDenied):
		return http.StatusForbidden, "topic is not allowed"
	case errors.Is(err, interceptors.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "message too large"
	case errors.Is(err, reliability.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "broker unavailable"
	case errors.Is(err, bridge.ErrEngineClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	// checked after cancellation: a caller hanging up mid-publish is not a broker fault
	case errors.Is(err, bridge.ErrTransportFailure):
		return http.StatusBadGateway, "publish failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
