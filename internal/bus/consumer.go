package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// HeaderName carries the event name on inbound and outbound messages.
const HeaderName = "name"

// callsToken is the subject token under which call notifications are
// published. The consumer never reads them back.
const callsToken = "calls"

// Pending limits of the subscription. The delivery callback never blocks, so
// these only bound a burst the mailboxes have not yet picked up.
const (
	pendingMsgsLimit  = 1 << 20
	pendingBytesLimit = 512 << 20
)

// Handler processes one decoded bus event.
type Handler func(ctx context.Context, name string, data map[string]any)

// message is the bus envelope: an event name and its payload.
type message struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

type job struct {
	name string
	data map[string]any
}

// Consumer subscribes to every event under a subject prefix and hands the
// accepted ones to a Handler. Events sharing a call (or user, for session
// events) are queued in one mailbox and handled in arrival order. Different
// mailboxes drain concurrently, at most workers handlers at a time.
type Consumer struct {
	nc      *nats.Conn
	subject string
	own     string
	workers int
	accept  func(name string) bool
	handler Handler
	logger  *slog.Logger
}

// NewConsumer creates a Consumer for "<prefix>.>". Events whose name fails
// accept are dropped before queueing; a nil accept keeps everything.
func NewConsumer(nc *nats.Conn, prefix string, workers int, accept func(name string) bool, handler Handler, logger *slog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if accept == nil {
		accept = func(string) bool { return true }
	}
	return &Consumer{
		nc:      nc,
		subject: prefix + ".>",
		own:     prefix + "." + callsToken + ".",
		workers: workers,
		accept:  accept,
		handler: handler,
		logger:  logger.With("subsystem", "bus_consumer"),
	}
}

// Run consumes events until ctx is cancelled. Events already queued when ctx
// ends are still handled before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	boxes := newMailboxes(c.workers, func(j job) { c.handle(ctx, j) })

	sub, err := c.nc.Subscribe(c.subject, func(msg *nats.Msg) {
		c.receive(boxes, msg)
	})
	if err != nil {
		return fmt.Errorf("bus: subscribing to %s: %w", c.subject, err)
	}
	if err := sub.SetPendingLimits(pendingMsgsLimit, pendingBytesLimit); err != nil {
		c.logger.Warn("failed to raise pending limits", "subject", c.subject, "error", err)
	}

	c.logger.Info("consuming bus events", "subject", c.subject, "workers", c.workers)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		c.logger.Warn("failed to unsubscribe", "subject", c.subject, "error", err)
	}
	boxes.close()
	return nil
}

// receive runs on the subscription's delivery goroutine and must not block.
func (c *Consumer) receive(boxes *mailboxes, msg *nats.Msg) {
	if strings.HasPrefix(msg.Subject, c.own) {
		return
	}
	if name := msg.Header.Get(HeaderName); name != "" && !c.accept(name) {
		return
	}
	name, data, err := Decode(msg)
	if err != nil {
		c.logger.Debug("dropping undecodable bus message", "subject", msg.Subject, "error", err)
		return
	}
	if !c.accept(name) {
		return
	}
	boxes.post(mailboxKey(data), job{name: name, data: data})
}

func (c *Consumer) handle(ctx context.Context, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic handling bus event", "name", j.name, "panic", rec)
		}
	}()
	// Handlers still run during shutdown so queued resolutions are not lost.
	c.handler(context.WithoutCancel(ctx), j.name, j.data)
}

// Decode extracts the event name and payload from a bus message. The name is
// read from the envelope, falling back to the "name" header.
func Decode(msg *nats.Msg) (string, map[string]any, error) {
	var m message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return "", nil, fmt.Errorf("bus: decoding message: %w", err)
	}
	name := m.Name
	if name == "" && msg.Header != nil {
		name = msg.Header.Get(HeaderName)
	}
	if name == "" {
		return "", nil, errors.New("bus: message has no event name")
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	return name, m.Data, nil
}

// mailboxKey is the call identifier of an event, or its user for session
// events. Events without either share the empty key.
func mailboxKey(data map[string]any) string {
	if key, _ := data["Linkedid"].(string); key != "" {
		return key
	}
	key, _ := data["user_uuid"].(string)
	return key
}

// mailboxes queues jobs per key. A key's queue is drained by one goroutine
// that exists only while the queue is non-empty, so a slow key never holds
// up another. post never blocks.
type mailboxes struct {
	mu     sync.Mutex
	queues map[string][]job
	closed bool
	wg     sync.WaitGroup
	slots  chan struct{}
	run    func(job)
}

func newMailboxes(workers int, run func(job)) *mailboxes {
	return &mailboxes{
		queues: make(map[string][]job),
		slots:  make(chan struct{}, workers),
		run:    run,
	}
}

// post appends j to key's queue, starting a drainer if none is running.
// Jobs posted after close are dropped.
func (m *mailboxes) post(key string, j job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	q, running := m.queues[key]
	m.queues[key] = append(q, j)
	if !running {
		m.wg.Add(1)
		go m.drain(key)
	}
}

func (m *mailboxes) drain(key string) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		q := m.queues[key]
		if len(q) == 0 {
			delete(m.queues, key)
			m.mu.Unlock()
			return
		}
		j := q[0]
		q[0] = job{}
		m.queues[key] = q[1:]
		m.mu.Unlock()

		m.slots <- struct{}{}
		m.run(j)
		<-m.slots
	}
}

// pending reports the number of queued jobs not yet started.
func (m *mailboxes) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// close stops accepting jobs and waits for every queue to drain.
func (m *mailboxes) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}
