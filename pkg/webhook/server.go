package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"sdlcsquad/internal"
	"sdlcsquad/pkg/githubapp"

	"github.com/ThreeDotsLabs/watermill"
)

// Response is the acknowledgment returned for every webhook request.
type Response struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	EventType string `json:"event_type,omitempty"`
	Action    string `json:"action,omitempty"`
}

// Server receives GitHub webhook deliveries, verifies their signature, and
// hands them to the dispatcher. Accepted deliveries are also republished to
// any routing topics matched by the rule engine so agent work can run
// out-of-band.
type Server struct {
	secret     string
	dispatcher *Dispatcher
	rules      *internal.RuleEngine
	publisher  internal.Publisher
	logger     *log.Logger
	maxBody    int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRules sets the routing rule engine used for topic fanout.
func WithRules(rules *internal.RuleEngine) ServerOption {
	return func(s *Server) { s.rules = rules }
}

// WithPublisher sets the publisher used for topic fanout.
func WithPublisher(pub internal.Publisher) ServerOption {
	return func(s *Server) { s.publisher = pub }
}

// WithMaxBody caps the request body size in bytes.
func WithMaxBody(n int64) ServerOption {
	return func(s *Server) { s.maxBody = n }
}

// NewServer creates a webhook Server.
func NewServer(secret string, dispatcher *Dispatcher, logger *log.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		secret:     secret,
		dispatcher: dispatcher,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP handles an incoming webhook request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = watermill.NewUUID()
	}
	w.Header().Set("X-Request-Id", deliveryID)
	logger := internal.WithRequestID(s.logger, deliveryID)

	internal.IncDelivery()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, Response{Status: "error", Message: "read body failed"})
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !githubapp.VerifySignature(body, signature, s.secret) {
		internal.IncSignatureFailure()
		logger.Printf("invalid webhook signature")
		writeResponse(w, http.StatusUnauthorized, Response{Status: "invalid_signature", Message: "signature verification failed"})
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	delivery, err := ParseDeliveryBytes(eventType, deliveryID, body)
	if err != nil {
		logger.Printf("payload parse failed: %v", err)
		writeResponse(w, http.StatusBadRequest, Response{Status: "error", Message: "invalid JSON payload", EventType: eventType})
		return
	}

	logger.Printf("delivery event=%s action=%s", delivery.EventType, delivery.Action)

	results := s.dispatcher.Dispatch(r.Context(), delivery)
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			internal.IncHandlerError()
			logger.Printf("handler %s failed: %v", result.Key, result.Err)
		}
	}

	s.fanout(r, logger, delivery, body)

	resp := Response{
		Status:    "processed",
		Message:   processedMessage(len(results), failed),
		EventType: delivery.EventType,
		Action:    delivery.Action,
	}
	if failed > 0 && failed == len(results) {
		resp.Status = "error"
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) fanout(r *http.Request, logger *log.Logger, delivery *Delivery, raw []byte) {
	if s.rules == nil || s.publisher == nil {
		return
	}
	data := internal.Flatten(delivery.Payload)
	// Rule expressions match on the event identity as well as payload fields.
	data["source"] = "github"
	data["event"] = delivery.EventType
	data["action"] = delivery.Action
	event := internal.Event{
		Source:     "github",
		Name:       delivery.EventType,
		Action:     delivery.Action,
		DeliveryID: delivery.DeliveryID,
		Data:       data,
		RawPayload: raw,
		Object:     delivery.Payload,
	}
	for _, match := range s.rules.Evaluate(event) {
		routed := event
		routed.Agent = match.Agent
		routed.Params = match.Params
		if err := s.publisher.PublishForDrivers(r.Context(), match.Topic, routed, match.Drivers); err != nil {
			internal.IncPublishError(match.Topic)
			logger.Printf("publish %s failed: %v", match.Topic, err)
		}
	}
}

func processedMessage(total, failed int) string {
	if failed > 0 {
		return fmt.Sprintf("processed %d handler(s), %d failed", total, failed)
	}
	return fmt.Sprintf("processed %d handler(s)", total)
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
