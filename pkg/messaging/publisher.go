package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"meetrec-server/pkg/metrics"
)

// MeetingRecord is the finished-session document published to the record
// store once a recording completes.
type MeetingRecord struct {
	SessionID   string                 `json:"session_id"`
	MeetingID   string                 `json:"meeting_id,omitempty"`
	Title       string                 `json:"title,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	EndedAt     time.Time              `json:"ended_at"`
	Transcript  string                 `json:"transcript"`
	Summary     string                 `json:"summary,omitempty"`
	SpeakerIDs  []string               `json:"speaker_ids,omitempty"`
	ArtifactID  string                 `json:"artifact_id,omitempty"`
	FinalStatus string                 `json:"final_status,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AudioClearedEvent tells the record store that a meeting's audio artifact
// was deleted by retention. The record itself lives on; only its audio
// reference should be cleared.
type AudioClearedEvent struct {
	Event      string    `json:"event"`
	SessionID  string    `json:"session_id"`
	ArtifactID string    `json:"artifact_id"`
	ClearedAt  time.Time `json:"cleared_at"`
}

// PublisherConfig holds AMQP record publishing configuration
type PublisherConfig struct {
	URL        string
	QueueName  string
	Exchange   string
	RoutingKey string
}

// RecordPublisher publishes finished meeting records to an AMQP queue. When
// no URL is configured the publisher is disabled and every call is a cheap
// no-op, so sessions never need to care whether a record store exists.
type RecordPublisher struct {
	logger    *logrus.Logger
	config    PublisherConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewRecordPublisher creates a record publisher
func NewRecordPublisher(logger *logrus.Logger, config PublisherConfig) *RecordPublisher {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	return &RecordPublisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Enabled reports whether a record store is configured
func (p *RecordPublisher) Enabled() bool {
	return p.config.URL != "" && p.config.QueueName != ""
}

// Connect establishes the AMQP connection and declares the record queue.
// Calling Connect on a disabled publisher is a no-op.
func (p *RecordPublisher) Connect() error {
	if !p.Enabled() {
		p.logger.Debug("Record store not configured, publishing disabled")
		return nil
	}

	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}

	conn, err := p.dialWithTimeout(5 * time.Second)
	if err != nil {
		if metrics.AMQPConnectErrors != nil {
			metrics.AMQPConnectErrors.Inc()
		}
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		p.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare record queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})

	p.logger.WithFields(logrus.Fields{
		"url":   p.config.URL,
		"queue": p.config.QueueName,
	}).Info("Connected to record store")

	go p.monitorConnection()
	return nil
}

func (p *RecordPublisher) dialWithTimeout(timeout time.Duration) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	resultChan := make(chan dialResult, 1)

	go func() {
		conn, err := amqp.Dial(p.config.URL)
		select {
		case resultChan <- dialResult{conn, err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()

	select {
	case result := <-resultChan:
		if result.err != nil {
			return nil, fmt.Errorf("failed to connect to AMQP server: %w", result.err)
		}
		return result.conn, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("connection to AMQP server timed out after %s", timeout)
	}
}

// Disconnect closes the AMQP connection
func (p *RecordPublisher) Disconnect() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return
	}

	close(p.stopChan)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	p.logger.Info("Disconnected from record store")
}

// IsConnected returns the connection status
func (p *RecordPublisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// PublishRecord publishes one finished meeting record. Disabled publishers
// drop the record silently; a configured but disconnected publisher returns
// an error so the caller can retry.
func (p *RecordPublisher) PublishRecord(record MeetingRecord) error {
	if !p.Enabled() {
		return nil
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting record: %w", err)
	}

	if err := p.publish(body); err != nil {
		return err
	}
	p.logger.WithField("session_id", record.SessionID).Debug("Published meeting record")
	return nil
}

// PublishAudioCleared tells the record store a session's audio artifact was
// deleted by retention. Disabled publishers drop the event silently.
func (p *RecordPublisher) PublishAudioCleared(sessionID, artifactID string) error {
	if !p.Enabled() {
		return nil
	}

	body, err := json.Marshal(AudioClearedEvent{
		Event:      "audio-cleared",
		SessionID:  sessionID,
		ArtifactID: artifactID,
		ClearedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audio-cleared event: %w", err)
	}

	if err := p.publish(body); err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"artifact_id": artifactID,
	}).Debug("Published audio-cleared event")
	return nil
}

// publish delivers one JSON payload to the record queue
func (p *RecordPublisher) publish(body []byte) error {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	if !p.connected || p.channel == nil {
		if metrics.RecordsPublished != nil {
			metrics.RecordsPublished.WithLabelValues("failed").Inc()
		}
		return fmt.Errorf("not connected to record store")
	}

	err := p.channel.Publish(
		p.config.Exchange,
		p.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		if metrics.RecordsPublished != nil {
			metrics.RecordsPublished.WithLabelValues("failed").Inc()
		}
		return fmt.Errorf("failed to publish to record store: %w", err)
	}

	if metrics.RecordsPublished != nil {
		metrics.RecordsPublished.WithLabelValues("ok").Inc()
	}
	return nil
}

// monitorConnection watches for connection loss and reconnects with
// exponential backoff.
func (p *RecordPublisher) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	p.connMutex.RLock()
	if p.conn != nil {
		p.conn.NotifyClose(closeChan)
	}
	p.connMutex.RUnlock()

	for {
		select {
		case <-p.stopChan:
			return
		case closeErr := <-closeChan:
			p.connMutex.Lock()
			p.connected = false
			p.connMutex.Unlock()

			p.logger.WithError(closeErr).Warn("Record store connection lost, reconnecting")

			for attempt := 1; attempt <= 10; attempt++ {
				if err := p.Connect(); err == nil {
					p.logger.Info("Reconnected to record store")
					return
				}

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				time.Sleep(backoff)
			}
			return
		}
	}
}
