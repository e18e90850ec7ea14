// Package bus publishes live capture status and final transcripts to NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rbright/earshot/internal/session"
)

const (
	statusSuffix = ".status"
	finalSuffix  = ".transcript.final"
)

// StatusMessage is published on <subject>.status whenever the visible status changes.
type StatusMessage struct {
	State          string    `json:"state"`
	Listening      bool      `json:"listening"`
	Transcript     string    `json:"transcript"`
	Error          string    `json:"error,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Notice         string    `json:"notice,omitempty"`
	Level          uint8     `json:"level"`
	SoundDetected  bool      `json:"sound_detected"`
	SpeechDetected bool      `json:"speech_detected"`
	RestartCount   int       `json:"restart_count"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	At             time.Time `json:"at"`
}

// TranscriptMessage is published on <subject>.transcript.final once per session.
type TranscriptMessage struct {
	Transcript string    `json:"transcript"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Restarts   int       `json:"restarts"`
	Segments   int       `json:"segments"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher is a session.Observer backed by a NATS connection.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
	now     func() time.Time

	// loop-owned; Observer callbacks arrive on the controller loop.
	last    StatusMessage
	hasLast bool
}

// Connect dials url and returns a publisher rooted at subject.
func Connect(ctx context.Context, url, subject string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}
	if subject == "" {
		return nil, errors.New("no NATS subject configured")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	conn, err := nats.Connect(url,
		nats.Name("earshot"),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info("connected to NATS", "url", url, "subject", subject)
	return &Publisher{conn: conn, subject: subject, logger: logger, now: time.Now}, nil
}

func (p *Publisher) StatusSubject() string { return p.subject + statusSuffix }
func (p *Publisher) FinalSubject() string  { return p.subject + finalSuffix }

// StatusChanged publishes st unless only the elapsed clock moved.
func (p *Publisher) StatusChanged(st session.Status) {
	msg := StatusMessage{
		State:          string(st.State),
		Listening:      st.Listening,
		Transcript:     st.Transcript,
		Error:          st.Error,
		ErrorKind:      string(st.ErrorKind),
		Notice:         st.Notice,
		Level:          st.Level,
		SoundDetected:  st.SoundDetected,
		SpeechDetected: st.SpeechDetected,
		RestartCount:   st.RestartCount,
		ElapsedMS:      st.Elapsed.Milliseconds(),
	}
	if p.hasLast && sameVisible(p.last, msg) {
		return
	}
	p.last, p.hasLast = msg, true

	msg.At = p.now()
	p.publish(p.StatusSubject(), msg)
}

// SessionFinished publishes the final transcript of one session.
func (p *Publisher) SessionFinished(res session.Result) {
	msg := TranscriptMessage{
		Transcript: res.Transcript,
		Restarts:   res.Restarts,
		Segments:   res.Segments,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		msg.ErrorKind = string(res.Err.Kind)
		msg.Error = res.Err.Message
	}
	p.publish(p.FinalSubject(), msg)
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.FlushTimeout(time.Second); err != nil {
		p.logger.Warn("flush bus messages", "error", err.Error())
	}
	p.conn.Close()
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("encode bus message", "subject", subject, "error", err.Error())
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish bus message", "subject", subject, "error", err.Error())
	}
}

func sameVisible(a, b StatusMessage) bool {
	a.ElapsedMS, b.ElapsedMS = 0, 0
	return a == b
}
