// Package kafkasink publishes auth lifecycle events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "auth.events"

// Writer is the subset of *kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Sink built by New.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	Async        bool
}

// Sink is an auth.EventListener that writes every event as a JSON message
// keyed by user id. Events go through a bounded queue drained by a single
// writer goroutine, so a slow broker never holds up the auth flow that
// emitted the event.
type Sink struct {
	writer       Writer
	source       string
	logger       auth.Logger
	queueSize    int
	writeTimeout time.Duration

	queue  chan kafka.Message
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

var _ auth.EventListener = (*Sink)(nil)

const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second

	TextCodeQueueFull  = "EVENT_QUEUE_FULL"
	TextCodeSinkClosed = "EVENT_SINK_CLOSED"
)

// ErrQueueFull is returned when the queue has no room; the event is dropped.
var ErrQueueFull = goerrors.New("kafka sink queue is full", goerrors.CategoryOperation).
	WithTextCode(TextCodeQueueFull)

// ErrSinkClosed is returned for events emitted after Close.
var ErrSinkClosed = goerrors.New("kafka sink is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeSinkClosed)

// Option configures a Sink.
type Option func(*Sink)

// WithSource sets the source header of published messages.
func WithSource(source string) Option {
	return func(s *Sink) {
		s.source = source
	}
}

// WithLogger sets the logger for failed background writes.
func WithLogger(logger auth.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueueSize bounds the number of events waiting to be written.
func WithQueueSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWriteTimeout limits each background write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a sink backed by a kafka-go writer.
func New(cfg Config, opts ...Option) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, goerrors.New("kafka sink requires at least one broker", goerrors.CategoryBadInput).
			WithTextCode(auth.TextCodeInvalidConfig)
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
		RequiredAcks: kafka.RequireAll,
	}
	return NewWithWriter(w, opts...), nil
}

// NewWithWriter creates a sink over an existing writer and starts its
// writer goroutine. The writer must have its topic set.
func NewWithWriter(w Writer, opts ...Option) *Sink {
	s := &Sink{
		writer:       w,
		source:       "auth",
		logger:       auth.NewSlogLogger(nil),
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan kafka.Message, s.queueSize)
	s.done = make(chan struct{})
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for msg := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.logger.Warn("kafka sink write failed",
				"event_type", headerValue(msg, "event_type"),
				"key", string(msg.Key),
				"error", err,
			)
		}
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type message struct {
	auth.Event
	ErrorCode string `json:"error_code,omitempty"`
}

// OnAuthEvent implements auth.EventListener. It only enqueues; write
// failures are logged by the writer goroutine.
func (s *Sink) OnAuthEvent(_ context.Context, event auth.Event) error {
	data, err := json.Marshal(message{Event: event, ErrorCode: event.ErrorCode()})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode auth event")
	}

	key := event.UserID
	if key == "" {
		key = event.Identifier
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "result", Value: []byte(event.Result)},
			{Key: "source", Value: []byte(s.source)},
		},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull.Clone().WithMetadata(map[string]any{"event_type": string(event.Type)})
	}
}

// Close stops accepting events, waits for the queue to drain and closes the
// writer. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}
