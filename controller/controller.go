// Package controller manages the set of concurrent transfers: a
// registry of transfer records, a per-direction concurrency limit, and
// the broadcast event streams external consumers observe.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gosuda/swiftdrop/core/chunker"
	"github.com/gosuda/swiftdrop/core/peerconn"
	"github.com/gosuda/swiftdrop/core/wire"
	"github.com/gosuda/swiftdrop/transfer"
	"github.com/gosuda/swiftdrop/transport"
)

// ErrAtCapacity is returned by Send when the outgoing concurrency limit
// is already reached. (Over-capacity incoming connections are answered
// with an ERROR frame instead; see Receive.)
var ErrAtCapacity = errors.New("controller: at capacity")

// AcceptWait is how long Send waits for the receiver to connect to the
// transient listener it opens for a single outgoing transfer. A var,
// not a const, so tests can shrink it.
var AcceptWait = 30 * time.Second

// Direction is which side of a transfer this device played.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Record is an immutable snapshot of one transfer's progress.
type Record struct {
	ID              string
	Direction       Direction
	PeerName        string
	FileName        string
	State           transfer.State
	ChunksCompleted uint32
	ChunksTotal     uint32
	ErrorMessage    string
}

func (r Record) isTerminal() bool { return r.State.IsTerminal() }

// IdentitySource supplies this device's own identity for handshakes.
type IdentitySource interface {
	DisplayName() string
	ShortID() string
}

// SinkFactory is invoked exactly once per inbound transfer, at the
// awaitingAccept transition, to decide whether to accept it and where
// to write it.
type SinkFactory interface {
	OnIncomingOffer(transferID string, meta chunker.FilePrep) (transfer.Sink, bool)
}

// Controller owns the transfer registry and the concurrency gate.
type Controller struct {
	identity IdentitySource
	log      zerolog.Logger

	mu            sync.RWMutex
	records       map[string]*Record
	cancelFuncs   map[string]context.CancelFunc
	activeOut     int
	activeIn      int
	maxConcurrent int

	fullList  chan []Record
	perRecord chan Record
}

// New returns a Controller with the given per-direction concurrency
// limit.
func New(identity IdentitySource, maxConcurrent int, log zerolog.Logger) *Controller {
	return &Controller{
		identity:      identity,
		log:           log.With().Str("component", "controller").Logger(),
		records:       make(map[string]*Record),
		cancelFuncs:   make(map[string]context.CancelFunc),
		maxConcurrent: maxConcurrent,
		fullList:      make(chan []Record, 1),
		perRecord:     make(chan Record, 16),
	}
}

// FullListUpdates emits the complete record list each time a record is
// created or updated. It holds only the latest list: an unread list is
// replaced by the newer one. Remove and ClearFinished do not emit.
func (c *Controller) FullListUpdates() <-chan []Record { return c.fullList }

// RecordUpdates emits a single record each time it is created or
// updated, in per-transfer order. The channel buffers 16 records; an
// update arriving while the buffer is full is dropped.
func (c *Controller) RecordUpdates() <-chan Record { return c.perRecord }

// Snapshot returns an immutable copy of every record.
func (c *Controller) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshotLocked(c.records)
}

func snapshotLocked(records map[string]*Record) []Record {
	list := make([]Record, 0, len(records))
	for _, r := range records {
		list = append(list, *r)
	}
	return list
}

// Send opens a transient listener for one outgoing transfer, waits
// AcceptWait for the intended receiver to connect, then runs the
// sender flow. The returned id is valid immediately; the transfer runs
// in the background and reports through the event streams.
func (c *Controller) Send(dialerListener func() (transport.Listener, error), peerName, filePath string) (string, error) {
	c.mu.Lock()
	if c.activeOut >= c.maxConcurrent {
		c.mu.Unlock()
		return "", ErrAtCapacity
	}
	c.activeOut++
	c.mu.Unlock()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &Record{ID: id, Direction: Outgoing, PeerName: peerName, FileName: filePath, State: transfer.StateIdle}
	c.register(id, rec, cancel)

	go c.runSend(ctx, id, dialerListener, filePath)
	return id, nil
}

func (c *Controller) runSend(ctx context.Context, id string, dialerListener func() (transport.Listener, error), filePath string) {
	defer c.finishOutgoing()

	ln, err := dialerListener()
	if err != nil {
		c.updateState(id, transfer.StateFailed, 0, 0, err.Error())
		return
	}
	defer ln.Close()

	acceptCtx, acceptCancel := context.WithTimeout(ctx, AcceptWait)
	stream, err := ln.Accept(acceptCtx)
	acceptCancel()
	if err != nil {
		c.updateState(id, transfer.StateFailed, 0, 0, fmt.Sprintf("no receiver connected: %v", err))
		return
	}

	conn := peerconn.New(stream)
	defer conn.Dispose()

	sender := transfer.NewSender(conn, c.identity.ShortID(), c.identity.DisplayName(), filePath, func(u transfer.Update) {
		c.updateState(id, u.State, u.ChunksCompleted, u.ChunksTotal, u.ErrorMessage)
	})
	if err := sender.Run(ctx); err != nil {
		c.log.Debug().Err(err).Str("transfer_id", id).Msg("sender session ended")
	}
}

// Receive runs a single long-lived accept loop on ln, spawning a
// receiver session per inbound connection. Over-capacity arrivals are
// sent ERROR(internal-error, "Receiver busy") and closed.
func (c *Controller) Receive(ctx context.Context, ln transport.Listener, factory SinkFactory) {
	go func() {
		for {
			stream, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go c.handleIncoming(ctx, stream, factory)
		}
	}()
}

func (c *Controller) handleIncoming(ctx context.Context, stream io.ReadWriteCloser, factory SinkFactory) {
	conn := peerconn.New(stream)

	c.mu.Lock()
	if c.activeIn >= c.maxConcurrent {
		c.mu.Unlock()
		conn.Send(&wire.ErrorMsg{Code: wire.ErrCodeInternalError, Msg: "Receiver busy"})
		conn.Dispose()
		return
	}
	c.activeIn++
	c.mu.Unlock()
	defer c.finishIncoming()
	defer conn.Dispose()

	id := uuid.NewString()
	sessionCtx, cancel := context.WithCancel(ctx)
	rec := &Record{ID: id, Direction: Incoming, State: transfer.StateIdle}
	c.register(id, rec, cancel)

	onOffer := func(meta chunker.FilePrep) (transfer.Sink, string, bool) {
		c.setFileName(id, meta.Name)
		sink, ok := factory.OnIncomingOffer(id, meta)
		if !ok {
			return nil, "receiver declined", false
		}
		return sink, "", true
	}

	receiver := transfer.NewReceiver(conn, c.identity.ShortID(), c.identity.DisplayName(), onOffer, func(u transfer.Update) {
		c.updateState(id, u.State, u.ChunksCompleted, u.ChunksTotal, u.ErrorMessage)
	})
	if err := receiver.Run(sessionCtx); err != nil {
		c.log.Debug().Err(err).Str("transfer_id", id).Msg("receiver session ended")
	}
}

func (c *Controller) register(id string, rec *Record, cancel context.CancelFunc) {
	c.mu.Lock()
	c.records[id] = rec
	c.cancelFuncs[id] = cancel
	c.mu.Unlock()
	c.broadcast(*rec)
}

func (c *Controller) updateState(id string, state transfer.State, completed, total uint32, errMsg string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok || rec.isTerminal() {
		// Unknown records are ignored, and terminal states are
		// absorbing: late session updates do not overwrite them.
		c.mu.Unlock()
		return
	}
	rec.State = state
	if total > 0 {
		rec.ChunksTotal = total
	}
	rec.ChunksCompleted = completed
	if errMsg != "" {
		rec.ErrorMessage = errMsg
	}
	snap := *rec
	c.mu.Unlock()
	c.broadcast(snap)
}

func (c *Controller) setFileName(id, name string) {
	c.mu.Lock()
	if rec, ok := c.records[id]; ok {
		rec.FileName = name
	}
	c.mu.Unlock()
}

func (c *Controller) finishOutgoing() {
	c.mu.Lock()
	c.activeOut--
	c.mu.Unlock()
}

func (c *Controller) finishIncoming() {
	c.mu.Lock()
	c.activeIn--
	c.mu.Unlock()
}

func (c *Controller) broadcast(rec Record) {
	select {
	case c.perRecord <- rec:
	default:
	}

	c.mu.RLock()
	list := snapshotLocked(c.records)
	c.mu.RUnlock()

	select {
	case <-c.fullList:
	default:
	}
	c.fullList <- list
}

// Cancel marks a non-terminal record cancelled and signals its session
// task to close its connection. Idempotent: cancelling a terminal or
// unknown record is a no-op.
func (c *Controller) Cancel(id string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok || rec.isTerminal() {
		c.mu.Unlock()
		return
	}
	rec.State = transfer.StateCancelled
	snap := *rec
	cancel := c.cancelFuncs[id]
	c.mu.Unlock()
	c.broadcast(snap)
	if cancel != nil {
		cancel()
	}
}

// Remove drops a terminal record. Removing an active record is
// silently disallowed.
func (c *Controller) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok || !rec.isTerminal() {
		return
	}
	delete(c.records, id)
	delete(c.cancelFuncs, id)
}

// ClearFinished drops every terminal record.
func (c *Controller) ClearFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rec := range c.records {
		if rec.isTerminal() {
			delete(c.records, id)
			delete(c.cancelFuncs, id)
		}
	}
}
