package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
	"github.com/retrovue/core/pkg/logger"
)

// WSConn is the subset of *websocket.Conn Transport depends on, so tests
// can substitute an in-memory fake instead of opening a real socket.
type WSConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens a WSConn to the reconciliation service. *websocket.Dialer
// satisfies this once wrapped by DefaultDialer.
type Dialer interface {
	Dial(ctx context.Context, url string) (WSConn, error)
}

// DefaultDialer wraps gorilla/websocket's Dialer for production use.
type DefaultDialer struct {
	Underlying *websocket.Dialer
}

func (d DefaultDialer) Dial(ctx context.Context, url string) (WSConn, error) {
	dialer := d.Underlying
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// helloMessage opens a streaming session with the reconciliation service,
// carrying the (first_sequence_available, last_sequence_emitted) pair the
// spec's §4.8 step 1 requires so the receiver can compute the correct
// replay-resume point.
type helloMessage struct {
	Type                   string `json:"type"`
	ChannelID              string `json:"channel_id"`
	PlayoutSessionID       string `json:"playout_session_id"`
	FirstSequenceAvailable uint64 `json:"first_sequence_available"`
	LastSequenceEmitted    uint64 `json:"last_sequence_emitted"`
}

// ackMessage carries the receiver's acknowledgement: the highest sequence it
// has ingested for the session.
type ackMessage struct {
	Type           string `json:"type"`
	AckedSequence  uint64 `json:"acked_sequence"`
}

// TransportConfig holds the transport's endpoint URL and reconnect backoff
// bounds; none of these has a key in retrovueconfig.Config.
type TransportConfig struct {
	URL               string
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

// Transport streams a spool's contents to the reconciliation service over
// a persistent websocket connection: HELLO, await the receiver's ack,
// replay everything past that ack, then keep the connection open for acks.
// Envelopes appended after the replay are not picked up from the spool
// automatically; they reach the connection only through SendEnvelope, or
// through the replay of the next reconnect. Duplicate delivery across
// reconnects is expected and tolerated by the receiver's
// (session_id, sequence) dedup.
type Transport struct {
	channelID        model.ID
	playoutSessionID string
	spool            *Spool
	dialer           Dialer
	cfg              TransportConfig
	log              *logger.Logger

	mu   sync.Mutex
	conn WSConn
}

// NewTransport constructs a Transport for one channel/session's spool.
func NewTransport(channelID model.ID, playoutSessionID string, spool *Spool, dialer Dialer, cfg TransportConfig, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.NewDefault("evidence")
	}
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	return &Transport{
		channelID:        channelID,
		playoutSessionID: playoutSessionID,
		spool:            spool,
		dialer:           dialer,
		cfg:              cfg,
		log:              log,
	}
}

// Run drives the connect/stream/reconnect loop until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) {
	delay := t.cfg.ReconnectMinDelay
	for {
		if ctx.Err() != nil {
			return
		}
		if err := t.runOnce(ctx); err != nil {
			t.log.WithField("channel_id", t.channelID).WithError(err).
				Warn("evidence transport disconnected, backing off before reconnect")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > t.cfg.ReconnectMaxDelay {
				delay = t.cfg.ReconnectMaxDelay
			}
			continue
		}
		delay = t.cfg.ReconnectMinDelay
	}
}

func (t *Transport) runOnce(ctx context.Context) error {
	conn, err := t.dialer.Dial(ctx, t.cfg.URL)
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "Transport.runOnce", err)
	}
	defer conn.Close()

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := conn.WriteJSON(helloMessage{
		Type:                   "HELLO",
		ChannelID:              string(t.channelID),
		PlayoutSessionID:       t.playoutSessionID,
		FirstSequenceAvailable: 1,
		LastSequenceEmitted:    t.spool.LastAppendedSequence(),
	}); err != nil {
		return fmt.Errorf("write HELLO: %w", err)
	}

	var ack ackMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("await ack: %w", err)
	}

	backlog, err := t.spool.Replay(ack.AckedSequence)
	if err != nil {
		return fmt.Errorf("replay past acked sequence %d: %w", ack.AckedSequence, err)
	}
	for _, env := range backlog {
		if err := conn.WriteJSON(env); err != nil {
			return fmt.Errorf("replay write: %w", err)
		}
	}

	return t.stream(ctx, conn)
}

// stream applies the acks the receiver sends back until ctx is cancelled or
// the connection fails. It does not watch the spool for new appends: the
// spool has no append notification, and new envelopes are written to the
// connection only by SendEnvelope.
func (t *Transport) stream(ctx context.Context, conn WSConn) error {
	acks := make(chan ackMessage)
	errs := make(chan error, 1)
	go func() {
		for {
			var a ackMessage
			if err := conn.ReadJSON(&a); err != nil {
				errs <- err
				return
			}
			acks <- a
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case a := <-acks:
			if err := t.spool.UpdateAck(a.AckedSequence); err != nil {
				t.log.WithField("channel_id", t.channelID).WithError(err).Error("failed to persist evidence ack")
			}
		}
	}
}

// SendEnvelope writes one envelope on the active connection, if any. It is
// the production hook a spool-append-notify callback drives, and the
// direct hook tests use to exercise stream() deterministically.
func (t *Transport) SendEnvelope(env model.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return retrovueerr.New(retrovueerr.CodeSpoolFull, "Transport.SendEnvelope", "no active connection")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var raw json.RawMessage = data
	return conn.WriteJSON(raw)
}
