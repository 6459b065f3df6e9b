// Package nats provides a JetStream-backed event store and snapshot store.
// Events live on one subject per stream; the JetStream sequence doubles as
// the global sequence. The optimistic version check is read-then-publish, so
// a single writer per process (the log's per-stream scheduler) is assumed;
// cross-process races surface as duplicate (stream, version) pairs on read.
//
// Batches publish one message per event, so an error or cancellation mid-way
// leaves the already acked prefix on the stream. Every message carries a
// deduplication id derived from the draft content, so resubmitting the same
// batch within the stream's duplicate window converges: the prefix is
// absorbed by the server instead of being stored twice, and the remaining
// events are appended. Callers that abandon a failed batch instead of
// resubmitting it keep the prefix.
package nats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/factlog-go/core/eventlog"
)

const (
	defaultSubjectPrefix = "factlog.events"

	// duplicateWindow bounds how long a partially published batch can be
	// resubmitted before the server forgets the prefix's message ids.
	duplicateWindow = 2 * time.Minute
)

// ErrRetentionUnsupported is returned by DeleteOlderThan. JetStream ages
// messages out via the stream's MaxAge limit instead of explicit deletes.
var ErrRetentionUnsupported = errors.New("jetstream store does not support explicit retention cleanup, set MaxAge on the stream")

type EventStoreConfig struct {
	Connect       Connector     // Connect creates the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger  // Log for diagnostics (optional)
	SubjectPrefix string        // SubjectPrefix is the prefix events are published under
	StreamName    string
	MaxAge        time.Duration // MaxAge bounds event retention, 0 keeps everything
}

type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = "FACTLOG"
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.MaxAge,
		FirstSeq:   1,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("ensured", slog.Any("stream", streamInfo))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Append(
	ctx context.Context,
	streamID string,
	expect eventlog.Version,
	events []eventlog.Event,
) (*eventlog.AppendResult, error) {
	if len(events) == 0 {
		return nil, eventlog.ErrEmptyBatch
	}
	if streamID == "" {
		return nil, errors.New("stream id is empty")
	}

	next := expect
	for _, ev := range events {
		if ev.StreamID != streamID {
			return nil, eventlog.ErrMixedStreamBatch
		}
		next++
		if ev.Version != next {
			return nil, fmt.Errorf(
				"%w: event %s has version %d, want %d",
				eventlog.ErrNonContiguousBatch, ev.ID, ev.Version, next,
			)
		}
	}

	// Optimistic check (best-effort): read current last version.
	current, err := e.LatestVersion(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	if current != expect && !e.resumesBatch(ctx, streamID, expect, current, events) {
		return nil, fmt.Errorf(
			"%w: stream %s is at version %d, expected %d",
			eventlog.ErrVersionConflict, streamID, current, expect,
		)
	}

	out := make([]eventlog.Event, 0, len(events))
	var lastSeq uint64
	for _, ev := range events {
		lastSeq, err = e.publish(ctx, ev)
		if err != nil {
			return nil, err
		}
		ev.Seq = lastSeq
		out = append(out, ev)
	}

	return &eventlog.AppendResult{
		LastSeq:     lastSeq,
		LastVersion: out[len(out)-1].Version,
		Events:      out,
	}, nil
}

// resumesBatch reports whether the stream head is a previously acked prefix
// of this exact batch, left behind by an Append that failed or was cancelled
// mid-publish. The resubmit may proceed: the prefix's message ids match, so
// the duplicate window absorbs the overlap instead of storing it twice.
func (e *EventStore) resumesBatch(
	ctx context.Context,
	streamID string,
	expect, current eventlog.Version,
	events []eventlog.Event,
) bool {
	if current <= expect || current > expect+eventlog.Version(len(events)) {
		return false
	}
	last, err := e.lastEventForStream(ctx, streamID)
	if err != nil || last == nil {
		return false
	}
	return publishMsgID(*last) == publishMsgID(events[current-expect-1])
}

// publishMsgID derives the deduplication id from the fields that stay stable
// when the same draft is prepared again for a resubmit. Event id, timestamp
// and sequence are regenerated per attempt and must not feed the hash.
func publishMsgID(ev eventlog.Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|", ev.StreamID, ev.Version, ev.Type, ev.UserID)
	h.Write(ev.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *EventStore) publish(ctx context.Context, ev eventlog.Event) (seq uint64, err error) {
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("failed to validate event: %w", err)
	}

	subject := e.subjectForStream(ev.StreamID)
	msg := natsgo.NewMsg(subject)
	msg.Header.Set("x-event-type", ev.Type)
	msg.Header.Set("x-stream-id", ev.StreamID)
	msg.Data, err = json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	ackF, err := e.js.PublishMsgAsync(
		msg,
		jetstream.WithMsgID(publishMsgID(ev)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append to subject %s %s: %w", subject, ev.Type, err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-ackF.Err():
		return 0, fmt.Errorf("failed to append to subject %s %s: %w", subject, ev.Type, err)
	case ack := <-ackF.Ok():
		return ack.Sequence, nil
	}
}

func (e *EventStore) Load(
	ctx context.Context,
	streamID string,
	opts ...eventlog.LoadOption,
) ([]eventlog.Event, error) {
	if streamID == "" {
		return nil, errors.New("stream id is empty")
	}

	loadOpts := &eventlog.LoadOptions{}
	for _, opt := range opts {
		opt(loadOpts)
	}

	last, err := e.lastEventForStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return []eventlog.Event{}, nil
	}

	all, err := e.consumeSubjects(ctx, []string{e.subjectForStream(streamID)}, last.Seq)
	if err != nil {
		return nil, err
	}

	out := make([]eventlog.Event, 0, len(all))
	for _, ev := range all {
		if loadOpts.StartVersion > 0 && ev.Version < loadOpts.StartVersion {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (e *EventStore) Scan(ctx context.Context, filter eventlog.Filter) ([]eventlog.Event, error) {
	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.State.Msgs == 0 {
		return []eventlog.Event{}, nil
	}

	all, err := e.consumeSubjects(ctx, []string{e.subjectPrefix + ".>"}, info.State.LastSeq)
	if err != nil {
		return nil, err
	}

	out := make([]eventlog.Event, 0, len(all))
	for _, ev := range all {
		if !matchScan(ev, filter) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (e *EventStore) LatestVersion(ctx context.Context, streamID string) (eventlog.Version, error) {
	last, err := e.lastEventForStream(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.Version, nil
}

func (e *EventStore) DeleteOlderThan(context.Context, time.Time) (int, error) {
	return 0, ErrRetentionUnsupported
}

func (e *EventStore) Subscribe(ctx context.Context, opts ...eventlog.SubscribeOption) (eventlog.Subscription, error) {
	options := eventlog.NewSubscribeOpts(opts...)

	// Subject filters narrow by stream; type filters apply client-side.
	var filterSubjects []string
	for _, f := range options.Filters() {
		if f.StreamID != "" {
			filterSubjects = append(filterSubjects, e.subjectForStream(f.StreamID))
		} else {
			filterSubjects = []string{e.subjectPrefix + ".>"}
			break
		}
	}
	if len(filterSubjects) == 0 {
		filterSubjects = []string{e.subjectPrefix + ".>"}
	}

	consumerCfg := jetstream.ConsumerConfig{
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		FilterSubjects:    filterSubjects,
		InactiveThreshold: 10 * time.Minute,
	}
	if options.DeliverPolicy() == eventlog.DeliverAllPolicy {
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	e.log.Debug("subscribe", slog.Any("subjects", filterSubjects))

	consumer, err := e.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer filter_subjects=%+v: %w", filterSubjects, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan eventlog.Event, 64)
	filters := options.Filters()

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := msg.Ack(); err != nil {
			e.log.Error("failed to ack message", slog.Any("error", err))
			return
		}

		ev, err := decodeMsg(msg)
		if err != nil {
			e.log.Error("failed to decode message", slog.Any("error", err))
			return
		}
		if !matchSubscribe(*ev, filters) {
			return
		}
		e.log.Debug("delivering", ev.SlogGroup())

		select {
		case ch <- *ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	stopOnce := sync.Once{}
	stop := func() {
		stopOnce.Do(func() {
			cc.Drain()
			cancel()
			close(ch)
		})
	}
	context.AfterFunc(ctx, stop)

	return &jsSubscription{ch: ch, cancel: stop}, nil
}

func (e *EventStore) consumeSubjects(
	ctx context.Context,
	subjects []string,
	endSeq uint64,
) (loaded []eventlog.Event, err error) {
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: subjects,
	})
	if err != nil {
		return nil, err
	}

	var (
		mb  jetstream.MessageBatch
		msg jetstream.Msg
		ev  *eventlog.Event
	)

outer:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err = cc.FetchNoWait(100)
		if err != nil {
			return nil, err
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}

		empty := true

		for msg = range mb.Messages() {
			empty = false
			ev, err = decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode message: %w", err)
			}

			loaded = append(loaded, *ev)

			if endSeq > 0 && ev.Seq >= endSeq {
				break outer
			}
		}

		if empty {
			break
		}
	}

	return loaded, nil
}

func (e *EventStore) lastEventForStream(ctx context.Context, streamID string) (*eventlog.Event, error) {
	subject := e.subjectForStream(streamID)
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, err
	}

	ev := &eventlog.Event{}
	if err := json.Unmarshal(lm.Data, ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last message for subject %q: %w", subject, err)
	}
	ev.Seq = lm.Sequence
	return ev, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func decodeMsg(msg jetstream.Msg) (*eventlog.Event, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}

	ev := &eventlog.Event{}
	if err := json.Unmarshal(msg.Data(), ev); err != nil {
		return nil, err
	}
	ev.Seq = md.Sequence.Stream
	return ev, nil
}

// subjectForStream maps a stream id onto one NATS subject token. Characters
// with subject semantics are replaced so ids stay addressable.
func (e *EventStore) subjectForStream(streamID string) string {
	return e.subjectPrefix + "." + sanitizeToken(streamID)
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, s)
}

func matchScan(ev eventlog.Event, f eventlog.Filter) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if !f.From.IsZero() && ev.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.OccurredAt.After(f.To) {
		return false
	}
	return true
}

func matchSubscribe(ev eventlog.Event, filters []eventlog.SubscribeFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		if f.StreamID != "" && ev.StreamID != f.StreamID {
			continue
		}
		return true
	}
	return false
}

var (
	_ eventlog.Store      = (*EventStore)(nil)
	_ eventlog.Subscriber = (*EventStore)(nil)
)

// --- Subscription ---

type jsSubscription struct {
	ch     chan eventlog.Event
	cancel context.CancelFunc
}

func (s *jsSubscription) Cancel()                     { s.cancel() }
func (s *jsSubscription) Chan() <-chan eventlog.Event { return s.ch }

var _ eventlog.Subscription = (*jsSubscription)(nil)
