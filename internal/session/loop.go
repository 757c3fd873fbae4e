package session

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/tandem/internal/protocol"
	"go.uber.org/zap"
)

const defaultQueueSize = 1024

// ErrLoopStopped is returned when work is submitted after Run has returned.
var ErrLoopStopped = errors.New("session: loop stopped")

var errMissingEngine = errors.New("session: engine required")

type task func(ctx context.Context, engine *Engine)

// Loop serializes every session event onto a single goroutine so that each
// one is applied completely before the next is observed.
type Loop struct {
	engine *Engine
	queue  chan task
	done   chan struct{}
	logger *zap.Logger
}

// NewLoop wraps engine in a Loop with a queue of queueSize pending events.
func NewLoop(engine *Engine, queueSize int, logger *zap.Logger) (*Loop, error) {
	if engine == nil {
		return nil, errMissingEngine
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		engine: engine,
		queue:  make(chan task, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}, nil
}

// Run applies queued events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	l.logger.Info("session loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("session loop stopped")
			return nil
		case next := <-l.queue:
			next(ctx, l.engine)
		}
	}
}

// Post queues fn, blocking while the queue is full.
func (l *Loop) Post(fn func(ctx context.Context, engine *Engine)) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context, engine *Engine)) error {
	finished := make(chan struct{})
	err := l.Post(func(loopCtx context.Context, engine *Engine) {
		defer close(finished)
		fn(loopCtx, engine)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

func (l *Loop) Connect(conn Connection) error {
	return l.Post(func(_ context.Context, engine *Engine) {
		engine.Connect(conn)
	})
}

func (l *Loop) Disconnect(conn Connection) error {
	return l.Post(func(ctx context.Context, engine *Engine) {
		engine.Disconnect(ctx, conn)
	})
}

// HandleFrame decodes one inbound frame and queues the matching event.
// Malformed frames and unknown events are logged and dropped.
func (l *Loop) HandleFrame(conn Connection, frame []byte) error {
	envelope, err := protocol.Decode(frame)
	if err != nil {
		l.logger.Debug("malformed frame", zap.String(fieldConnectionID, conn.ID()), zap.Error(err))
		return nil
	}

	var next task
	switch envelope.Event {
	case protocol.EventJoinRoom:
		var payload protocol.JoinRoom
		if l.decode(conn, envelope, &payload) {
			next = func(ctx context.Context, engine *Engine) { engine.Join(ctx, conn, payload) }
		}
	case protocol.EventCodeDelta:
		var payload protocol.CodeDelta
		if l.decode(conn, envelope, &payload) {
			next = func(ctx context.Context, engine *Engine) { engine.Edit(ctx, conn, payload) }
		}
	case protocol.EventCursorMove:
		var payload protocol.CursorMove
		if l.decode(conn, envelope, &payload) {
			next = func(ctx context.Context, engine *Engine) { engine.CursorMove(ctx, conn, payload) }
		}
	case protocol.EventSelectionChange:
		var payload protocol.SelectionChange
		if l.decode(conn, envelope, &payload) {
			next = func(ctx context.Context, engine *Engine) { engine.SelectionChange(ctx, conn, payload) }
		}
	case protocol.EventRequestFullSync:
		var payload protocol.RequestFullSync
		if l.decode(conn, envelope, &payload) {
			next = func(ctx context.Context, engine *Engine) { engine.RequestFullSync(ctx, conn, payload) }
		}
	default:
		l.logger.Debug("unknown event", zap.String(fieldConnectionID, conn.ID()), zap.String("event", envelope.Event))
	}
	if next == nil {
		return nil
	}
	return l.Post(next)
}

func (l *Loop) decode(conn Connection, envelope protocol.Envelope, target any) bool {
	if err := envelope.DecodePayload(target); err != nil {
		l.logger.Debug("malformed payload",
			zap.String(fieldConnectionID, conn.ID()),
			zap.String("event", envelope.Event),
			zap.Error(err))
		return false
	}
	return true
}
