package reconcile

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/pkg/logger"
)

// Server wires a Receiver to the wire: a websocket upgrade endpoint that
// speaks the HELLO/ACK/replay/stream protocol Transport drives, plus a
// supplemented ack-status endpoint for operators and tests to poll
// without opening a socket.
type Server struct {
	receiver *Receiver
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewServer constructs a Server around an existing Receiver.
func NewServer(receiver *Receiver, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Server{
		receiver: receiver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

// Router builds the chi router serving the evidence stream and ack-status
// endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/evidence/stream", s.handleEvidenceStream)
	r.Get("/v1/sessions/{channelID}/{sessionID}/ack", s.handleAckStatus)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type ackStatusResponse struct {
	ChannelID        string `json:"channel_id"`
	PlayoutSessionID string `json:"playout_session_id"`
	AckedSequence    uint64 `json:"acked_sequence"`
}

func (s *Server) handleAckStatus(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	sessionID := chi.URLParam(r, "sessionID")
	seq := s.receiver.Ack(model.ID(channelID), sessionID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ackStatusResponse{
		ChannelID:        channelID,
		PlayoutSessionID: sessionID,
		AckedSequence:    seq,
	})
}

// helloMsg is the server-side mirror of evidence.helloMessage: the spec's
// §4.8 step 1 HELLO carries (first_sequence_available, last_sequence_emitted)
// so the receiver can tell whether its persisted ack still falls within what
// the client's spool can replay.
type helloMsg struct {
	Type                   string `json:"type"`
	ChannelID              string `json:"channel_id"`
	PlayoutSessionID       string `json:"playout_session_id"`
	FirstSequenceAvailable uint64 `json:"first_sequence_available"`
	LastSequenceEmitted    uint64 `json:"last_sequence_emitted"`
}

type ackMsg struct {
	Type          string `json:"type"`
	AckedSequence uint64 `json:"acked_sequence"`
}

// handleEvidenceStream upgrades the connection and drives the server half
// of Transport's HELLO/ACK/replay/stream lifecycle: read HELLO, reply with
// the currently persisted ack, then read envelopes until the connection
// drops, acking monotonically after each.
func (s *Server) handleEvidenceStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("evidence stream upgrade failed")
		return
	}
	defer conn.Close()

	var hello helloMsg
	if err := conn.ReadJSON(&hello); err != nil {
		s.log.WithError(err).Warn("evidence stream did not send a valid HELLO")
		return
	}

	initialAck := s.receiver.Ack(model.ID(hello.ChannelID), hello.PlayoutSessionID)
	if hello.FirstSequenceAvailable > initialAck+1 {
		s.log.WithField("channel_id", hello.ChannelID).
			WithField("acked_sequence", initialAck).
			WithField("first_sequence_available", hello.FirstSequenceAvailable).
			Warn("client's spool can no longer replay from our persisted ack; gap is unrecoverable")
	}
	if err := conn.WriteJSON(ackMsg{Type: "ACK", AckedSequence: initialAck}); err != nil {
		return
	}

	ctx := r.Context()
	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		seq, err := s.receiver.Ingest(ctx, env)
		if err != nil {
			s.log.WithField("channel_id", env.ChannelID).WithError(err).Error("failed to ingest evidence envelope")
			continue
		}
		if err := conn.WriteJSON(ackMsg{Type: "ACK", AckedSequence: seq}); err != nil {
			return
		}
	}
}
