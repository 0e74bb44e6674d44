package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/singleflight"

	"github.com/modelmycode/cqrs-framework/core/es"
)

const (
	defaultStreamName    = "EVENTS"
	defaultSubjectPrefix = "events"

	headerEventName     = "x-event-name"
	headerAggregateType = "x-aggregate-type"
	headerAggregateID   = "x-aggregate-id"
)

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string       // StreamName defaults to EVENTS
	SubjectPrefix string       // SubjectPrefix is the first subject token of every event
	MemoryStorage bool         // MemoryStorage keeps the stream in server memory
}

// EventStore keeps every aggregate stream on the subject
// <prefix>.<aggregate type>.<aggregate id> of a single JetStream stream. The
// stream sequence orders all events globally and doubles as tracking token:
// token = stream sequence - 1.
//
// Publishing a batch is not atomic. Each message is guarded by the expected
// last sequence of its subject, so a concurrent writer fails the batch at the
// first conflicting message, but messages published before it remain.
type EventStore struct {
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	lastToken     singleflight.Group
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	if err := validToken(subjectPrefix); err != nil {
		return nil, fmt.Errorf("subject prefix: %w", err)
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    storage,
		FirstSeq:   1,
		Duplicates: 2 * time.Minute,
		DenyDelete: true,
		DenyPurge:  true,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	log.Debug("ensured stream")

	return &EventStore{
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) subject(aggType, aggID string) (string, error) {
	if err := validToken(aggType); err != nil {
		return "", fmt.Errorf("aggregate type: %w", err)
	}
	if err := validToken(aggID); err != nil {
		return "", fmt.Errorf("aggregate id: %w", err)
	}
	return e.subjectPrefix + "." + aggType + "." + aggID, nil
}

// validToken rejects values that cannot be used as a single subject token.
func validToken(s string) error {
	if s == "" {
		return errors.New("empty subject token")
	}
	if strings.ContainsAny(s, ".*> \t\r\n") {
		return fmt.Errorf("invalid subject token %q", s)
	}
	return nil
}

// Load returns the stream of one aggregate in sequence order.
func (e *EventStore) Load(ctx context.Context, aggType, aggID string) ([]es.EventRecord, error) {
	subject, err := e.subject(aggType, aggID)
	if err != nil {
		return nil, err
	}

	last, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message of %s: %w", subject, err)
	}

	cons, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subject},
	})
	if err != nil {
		return nil, err
	}

	var records []es.EventRecord
	for {
		batch, err := cons.Fetch(100, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			return nil, err
		}
		received := 0
		for msg := range batch.Messages() {
			received++
			env, seq, err := decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", subject, err)
			}
			records = append(records, env.Record())
			if seq >= last.Sequence {
				return records, nil
			}
		}
		if err := batch.Error(); err != nil {
			return nil, err
		}
		if received == 0 {
			return nil, fmt.Errorf("load %s: stream ended before sequence %d", subject, last.Sequence)
		}
	}
}

// Publish appends messages in order. A message whose sequence number is not
// the next one of its aggregate stream fails with es.ErrConcurrencyConflict.
func (e *EventStore) Publish(ctx context.Context, messages []es.EventMessage) error {
	// last stream sequence per subject, as known to this batch
	lastSeq := map[string]uint64{}
	nextNumber := map[string]int64{}

	for _, m := range messages {
		subject, err := e.subject(m.AggregateType, m.AggregateID)
		if err != nil {
			return err
		}

		if _, ok := lastSeq[subject]; !ok {
			seq, number, err := e.head(ctx, subject)
			if err != nil {
				return err
			}
			lastSeq[subject], nextNumber[subject] = seq, number
		}
		if m.SequenceNumber != nextNumber[subject] {
			return fmt.Errorf(
				"%w: expected sequence %d, got %d (agg_type=%s agg_id=%s)",
				es.ErrConcurrencyConflict, nextNumber[subject], m.SequenceNumber, m.AggregateType, m.AggregateID,
			)
		}

		ack, err := e.publish(ctx, subject, m, lastSeq[subject])
		if err != nil {
			return err
		}
		lastSeq[subject] = ack.Sequence
		nextNumber[subject]++
	}
	return nil
}

// head returns the stream sequence of the last message on subject and the
// next aggregate sequence number. Both are 0 for an empty subject.
func (e *EventStore) head(ctx context.Context, subject string) (uint64, int64, error) {
	last, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("last message of %s: %w", subject, err)
	}
	var env es.Envelope
	if err := json.Unmarshal(last.Data, &env); err != nil {
		return 0, 0, fmt.Errorf("decode last message of %s: %w", subject, err)
	}
	return last.Sequence, env.SequenceNumber + 1, nil
}

func (e *EventStore) publish(ctx context.Context, subject string, m es.EventMessage, expectLast uint64) (*jetstream.PubAck, error) {
	env, err := es.NewEnvelope(gonanoid.Must(), m)
	if err != nil {
		return nil, err
	}

	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerEventName, env.Name)
	msg.Header.Set(headerAggregateType, env.AggregateType)
	msg.Header.Set(headerAggregateID, env.AggregateID)
	if msg.Data, err = json.Marshal(env); err != nil {
		return nil, err
	}

	ack, err := e.js.PublishMsg(
		ctx, msg,
		jetstream.WithMsgID(env.ID),
		jetstream.WithExpectLastSequencePerSubject(expectLast),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return nil, fmt.Errorf("%w: %s moved past sequence %d", es.ErrConcurrencyConflict, subject, expectLast)
		}
		return nil, fmt.Errorf("publish %s to %s: %w", env.Name, subject, err)
	}

	e.log.Debug(
		"published",
		slog.String("subject", subject),
		slog.String("event", env.Name),
		slog.Uint64("seq", ack.Sequence),
	)
	return ack, nil
}

// GetLastToken returns the token of the newest event, or es.NoToken for an
// empty stream. Concurrent callers share one stream info request.
func (e *EventStore) GetLastToken(ctx context.Context) (int64, error) {
	v, err, _ := e.lastToken.Do("", func() (any, error) {
		info, err := e.stream.Info(ctx)
		if err != nil {
			return nil, err
		}
		return int64(info.State.LastSeq) - 1, nil
	})
	if err != nil {
		return 0, fmt.Errorf("stream info: %w", err)
	}
	return v.(int64), nil
}

// ListEvents delivers every event after opts.TrackingToken through an
// ordered consumer, bounded by the subscription's flow control.
func (e *EventStore) ListEvents(ctx context.Context, opts es.ListEventsOptions) (es.Subscription, error) {
	if opts.OnNext == nil {
		return nil, errors.New("list events: OnNext is required")
	}

	consCfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{e.subjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if opts.TrackingToken >= 0 {
		consCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consCfg.OptStartSeq = uint64(opts.TrackingToken) + 2
	}
	cons, err := e.stream.OrderedConsumer(ctx, consCfg)
	if err != nil {
		return nil, fmt.Errorf("ordered consumer: %w", err)
	}

	fc := es.NewFlowControl(opts.Permits, opts.RefillBatch)
	it, err := cons.Messages(jetstream.PullMaxMessages(fc.Available()))
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, it.Stop)

	log := e.log.With(slog.Int64("from_token", opts.TrackingToken+1))
	log.Debug("list events")

	go func() {
		defer stop()
		defer it.Stop()
		for {
			msg, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					return
				}
				log.Error("event channel failed", slog.Any("error", err))
				if opts.OnError != nil {
					opts.OnError(err)
				}
				return
			}

			env, seq, err := decodeMsg(msg)
			if err != nil {
				log.Error("failed to decode event", slog.Any("error", err))
				if opts.OnError != nil {
					opts.OnError(err)
				}
				return
			}
			if err := fc.Deliver(ctx, env.Tracked(int64(seq)-1), opts.OnNext); err != nil {
				return
			}
		}
	}()

	return es.SubscriptionFunc(cancel), nil
}

func decodeMsg(msg jetstream.Msg) (es.Envelope, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return es.Envelope{}, 0, err
	}
	var env es.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return es.Envelope{}, 0, err
	}
	return env, md.Sequence.Stream, nil
}

var (
	_ es.EventStore   = (*EventStore)(nil)
	_ es.EventChannel = (*EventStore)(nil)
)
