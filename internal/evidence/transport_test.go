package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/retrovue/core/internal/model"
)

// fakeConn is an in-memory WSConn: writes from the transport land on
// `toServer`, and the test drives `fromServer` to simulate the
// reconciliation service's replies.
type fakeConn struct {
	mu         sync.Mutex
	toServer   []json.RawMessage
	fromServer chan json.RawMessage
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{fromServer: make(chan json.RawMessage, 64)}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.toServer = append(c.toServer, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	msg, ok := <-c.fromServer
	if !ok {
		return errors.New("fake connection closed")
	}
	return json.Unmarshal(msg, v)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.fromServer)
	}
	return nil
}

func (c *fakeConn) writtenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.toServer)
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (WSConn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func TestTransport_HelloAckReplayThenStream(t *testing.T) {
	dir := t.TempDir()
	spool, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("New spool: %v", err)
	}
	defer spool.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := spool.Append(mustEnvelope(t, seq), false); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	spool.Flush()

	conn := newFakeConn()
	dialer := &fakeDialer{conn: conn}
	transport := NewTransport("chan-1", "session-1", spool, dialer, TransportConfig{URL: "ws://fake"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		transport.Run(ctx)
		close(done)
	}()

	ackPayload, _ := json.Marshal(ackMessage{Type: "ACK", AckedSequence: 2})
	conn.fromServer <- ackPayload

	waitForCount(t, conn, 1+3) // HELLO + replay of sequences 3,4,5

	cancel()
	<-done
}

func waitForCount(t *testing.T, conn *fakeConn, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.writtenCount() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, got %d", want, conn.writtenCount())
}

func TestTransport_StreamAppliesAcks(t *testing.T) {
	dir := t.TempDir()
	spool, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("New spool: %v", err)
	}
	defer spool.Close()

	conn := newFakeConn()
	transport := NewTransport("chan-1", "session-1", spool, &fakeDialer{conn: conn}, TransportConfig{URL: "ws://fake"}, nil)

	helloAck, _ := json.Marshal(ackMessage{Type: "ACK", AckedSequence: 0})
	conn.fromServer <- helloAck

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		transport.runOnce(ctx)
		close(done)
	}()

	// give runOnce time to dial/HELLO/await-ack/replay and enter stream()
	time.Sleep(20 * time.Millisecond)

	var env model.Envelope = mustEnvelope(t, 1)
	if err := spool.Append(env, false); err != nil {
		t.Fatalf("append: %v", err)
	}

	advanceAck, _ := json.Marshal(ackMessage{Type: "ACK", AckedSequence: 1})
	conn.fromServer <- advanceAck

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && spool.AckedSequence() != 1 {
		time.Sleep(time.Millisecond)
	}
	if spool.AckedSequence() != 1 {
		t.Fatalf("expected ack to persist to 1, got %d", spool.AckedSequence())
	}

	cancel()
	<-done
}
