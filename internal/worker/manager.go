package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"funchatgo/internal/conversation"
	"funchatgo/internal/logger"
	"funchatgo/internal/memory"
	"funchatgo/internal/models"
	"funchatgo/internal/redis"
	"funchatgo/internal/service/tools"
)

var ErrUserRequired = errors.New("worker: user id required")

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	// TurnTimeout bounds one turn; zero means no limit.
	TurnTimeout time.Duration
}

// Manager serializes turns per user so one store never has two writers.
type Manager struct {
	orchestrator *conversation.Orchestrator
	stores       *memory.Registry
	dispatcher   *Dispatcher
	cache        *stateRedis
	turnTimeout  time.Duration
	instanceID   string
	cancel       context.CancelFunc
}

// NewManager starts the dispatcher. rdb may be nil for a single instance.
func NewManager(orch *conversation.Orchestrator, stores *memory.Registry, cfg DispatcherConfig, rdb *redis.Client) *Manager {
	if stores == nil {
		stores = memory.NewRegistry()
	}
	m := &Manager{
		orchestrator: orch,
		stores:       stores,
		turnTimeout:  cfg.TurnTimeout,
		instanceID:   uuid.NewString(),
	}
	m.cache = newStateRedis(rdb, m.instanceID)
	m.dispatcher = NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, m, cfg.IdleTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if err := m.cache.startListener(ctx, m.onInvalidate); err != nil {
		logger.Warn("worker invalidation listener disabled", "error", err)
	}
	return m
}

func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Stream runs one turn for req.UserID and waits for it to finish.
func (m *Manager) Stream(req TurnRequest) (*TurnResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, ErrUserRequired
	}
	if req.Context == nil {
		req.Context = context.Background()
	}
	resultCh := make(chan workerReturn, 1)
	job := Job{Type: Turn, UserID: req.UserID, turn: &turnTask{req: req, resultCh: resultCh}}
	if err := m.dispatcher.Submit(job); err != nil {
		return nil, err
	}
	ret := <-resultCh
	return ret.result, ret.err
}

// ResetUser clears the user's history once its queued turns are done and
// tells other instances to do the same.
func (m *Manager) ResetUser(ctx context.Context, userID string) error {
	return m.submitReset(ctx, userID, true)
}

func (m *Manager) submitReset(ctx context.Context, userID string, publish bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserRequired
	}
	doneCh := make(chan error, 1)
	job := Job{Type: Reset, UserID: userID, reset: &resetTask{publish: publish, doneCh: doneCh}}
	if err := m.dispatcher.Submit(job); err != nil {
		return err
	}
	select {
	case err := <-doneCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns a snapshot of the user's conversation, or nil.
func (m *Manager) History(userID string) []models.Message {
	store, ok := m.stores.Get(userID)
	if !ok {
		return nil
	}
	return store.Messages()
}

// Close stops the listener and the dispatcher. Queued jobs fail with
// ErrManagerClosed.
func (m *Manager) Close() {
	m.cancel()
	m.dispatcher.Close()
}

func (m *Manager) handleTurn(task *turnTask) {
	res, err := m.runTurn(task.req)
	task.resultCh <- workerReturn{result: res, err: err}
}

func (m *Manager) runTurn(req TurnRequest) (*TurnResult, error) {
	ctx := tools.WithToolUser(req.Context, req.UserID)
	if m.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.turnTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store := m.stores.Load(req.UserID)
	start := store.Len()
	debugLog("turn start", "user", req.UserID, "history", start)

	var content strings.Builder
	var turnErr error
	for delta, err := range m.orchestrator.RunTurn(ctx, store, req.Input) {
		if err != nil {
			turnErr = err
			break
		}
		content.WriteString(delta.Content)
		if req.ChunkFn != nil {
			if err := req.ChunkFn(delta); err != nil {
				turnErr = err
				break
			}
		}
	}
	result := &TurnResult{Content: content.String(), Messages: store.Since(start)}
	debugLog("turn done", "user", req.UserID, "added", len(result.Messages), "error", turnErr)
	return result, turnErr
}

func (m *Manager) handleReset(userID string, task *resetTask) {
	m.stores.Delete(userID)
	if task.publish {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		m.cache.publishInvalidation(ctx, userID, scopeHistory)
		cancel()
	}
	logger.Info("user history reset", "user", userID, "remote", !task.publish)
	task.doneCh <- nil
}

func (m *Manager) onInvalidate(msg invalidateMessage) {
	if msg.Scope != scopeHistory || msg.UserID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.submitReset(ctx, msg.UserID, false); err != nil {
			logger.Warn("remote reset failed", "user", msg.UserID, "error", err)
		}
	}()
}
