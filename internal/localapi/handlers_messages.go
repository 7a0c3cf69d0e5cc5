package localapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fogwarden/agent/internal/broker"
	"github.com/fogwarden/agent/internal/idgen"
	"github.com/fogwarden/agent/internal/routing"
)

// handleMessagesNext non-blockingly pulls pending messages for a
// workload's broker consumer.
func (s *Server) handleMessagesNext(w http.ResponseWriter, r *http.Request) {
	uuid := r.URL.Query().Get("uuid")
	if uuid == "" {
		writeError(w, http.StatusBadRequest, "uuid required")
		return
	}
	msgs := s.deps.Routing.NextMessages(uuid)
	writeJSON(w, http.StatusOK, msgs)
}

type messagesNewRequest struct {
	PublisherUUID string `json:"publisherUuid"`
	Tag           string `json:"tag,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	Content       []byte `json:"content"`
}

// handleMessagesNew publishes a message through the Routing Core.
func (s *Server) handleMessagesNew(w http.ResponseWriter, r *http.Request) {
	var req messagesNewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PublisherUUID == "" {
		writeError(w, http.StatusBadRequest, "publisherUuid required")
		return
	}

	msg := broker.Message{
		ID:          idgen.New().String(),
		Publisher:   req.PublisherUUID,
		Timestamp:   time.Now().UTC(),
		Tag:         req.Tag,
		ContentType: req.ContentType,
		Content:     req.Content,
	}

	if err := s.deps.Routing.Publish(req.PublisherUUID, msg); err != nil {
		switch {
		case errors.Is(err, routing.ErrUnknownPublisher):
			writeError(w, http.StatusNotFound, "unknown publisher")
		case errors.Is(err, routing.ErrPublisherBroken):
			writeError(w, http.StatusServiceUnavailable, "publisher temporarily unavailable")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.msgLog.Append(req.PublisherUUID, msg)
	writeJSON(w, http.StatusOK, map[string]string{"id": msg.ID})
}

type messagesQueryRequest struct {
	WorkloadUUID string    `json:"workloadUuid"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}

// handleMessagesQuery returns the calling workload's own published
// messages within [from, to].
func (s *Server) handleMessagesQuery(w http.ResponseWriter, r *http.Request) {
	var req messagesQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkloadUUID == "" {
		writeError(w, http.StatusBadRequest, "workloadUuid required")
		return
	}
	if req.To.IsZero() {
		req.To = time.Now().UTC()
	}
	writeJSON(w, http.StatusOK, s.msgLog.Query(req.WorkloadUUID, req.From, req.To))
}
