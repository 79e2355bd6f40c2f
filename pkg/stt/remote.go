package stt

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/errors"
)

// RemoteConfig configures the websocket streaming fallback backend
type RemoteConfig struct {
	// URL of the streaming transcription endpoint (ws:// or wss://)
	URL string

	// SampleRate the endpoint expects
	SampleRate int

	// ResponseTimeout bounds the wait for one window's result
	ResponseTimeout time.Duration
}

// remoteResult is the JSON frame the endpoint returns per audio window
type remoteResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// remoteHello announces the stream format when the connection opens
type remoteHello struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// RemoteTranscriber streams audio windows to a remote endpoint over a
// websocket, one binary frame per window, reading one JSON result back.
// It is the last-resort fallback when the local models keep failing.
type RemoteTranscriber struct {
	logger *logrus.Logger
	config RemoteConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemoteTranscriber creates a websocket streaming backend
func NewRemoteTranscriber(logger *logrus.Logger, config RemoteConfig) *RemoteTranscriber {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = 5 * time.Second
	}
	return &RemoteTranscriber{
		logger: logger,
		config: config,
	}
}

// Name returns the backend identifier
func (t *RemoteTranscriber) Name() string { return "remote" }

// Load dials the endpoint and announces the stream format. Idempotent while
// the connection is healthy.
func (t *RemoteTranscriber) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.config.URL == "" {
		return errors.New("remote transcription URL not configured")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial transcription endpoint").
			WithField("url", t.config.URL)
	}

	hello := remoteHello{
		Encoding:   "pcm_s16le",
		SampleRate: t.config.SampleRate,
		Channels:   1,
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to announce stream format")
	}

	t.conn = conn
	t.logger.WithField("url", t.config.URL).Info("Remote transcription stream connected")
	return nil
}

// Loaded reports whether the stream is connected
func (t *RemoteTranscriber) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// RequiredSampleRate returns the endpoint's expected rate
func (t *RemoteTranscriber) RequiredSampleRate() int { return t.config.SampleRate }

// Transcribe sends one window as a binary frame and reads the result frame
func (t *RemoteTranscriber) Transcribe(ctx context.Context, buf *capture.AudioBuffer) ([]TranscriptSegment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, ErrModelNotLoaded
	}
	if buf == nil || len(buf.Samples) == 0 {
		return nil, ErrInvalidAudioData
	}

	raw := make([]byte, len(buf.Samples)*2)
	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}

	if err := t.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.teardownLocked()
		return nil, errors.Wrap(ErrTranscriptionFailed, "stream write failed").
			WithField("error", err.Error())
	}

	deadline := time.Now().Add(t.config.ResponseTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = t.conn.SetReadDeadline(deadline)

	var result remoteResult
	if err := t.conn.ReadJSON(&result); err != nil {
		t.teardownLocked()
		return nil, errors.Wrap(ErrTranscriptionFailed, "stream read failed").
			WithField("error", err.Error())
	}

	if result.Text == "" {
		return nil, nil
	}

	return []TranscriptSegment{{
		Text:       result.Text,
		Start:      buf.Timestamp,
		End:        buf.Timestamp.Add(buf.Duration()),
		Confidence: result.Confidence,
	}}, nil
}

// Close shuts the stream down cleanly
func (t *RemoteTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.teardownLocked()
	return nil
}

func (t *RemoteTranscriber) teardownLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
