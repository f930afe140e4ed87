package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/constants"
	"github.com/kapu/yt-harvester-go/internal/domain"
)

// ChannelRecord is the minimal per-channel progress persisted for resume.
// Input is the raw user reference that resolved to this channel; it lets a
// resume skip re-resolving channels that already finished.
type ChannelRecord struct {
	ChannelID    string              `json:"channel_id"`
	Input        string              `json:"input,omitempty"`
	Title        string              `json:"title,omitempty"`
	State        domain.ChannelState `json:"state"`
	Total        int                 `json:"total"`
	Processed    int                 `json:"processed"`
	Successes    int                 `json:"successes"`
	Failures     int                 `json:"failures"`
	Skips        int                 `json:"skips"`
	CommittedIDs []string            `json:"committed_ids"`
}

// Snapshot is the full checkpoint document.
type Snapshot struct {
	SchemaVersion int                       `json:"schema_version"`
	BatchID       string                    `json:"batch_id"`
	StartedAt     time.Time                 `json:"started_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Channels      map[string]*ChannelRecord `json:"channels"`
	Result        *domain.BatchResult       `json:"result,omitempty"`
}

// Committed reports whether the video id is already committed for channelID.
func (s *Snapshot) Committed(channelID, videoID string) bool {
	rec, ok := s.Channels[channelID]
	if !ok {
		return false
	}
	for _, id := range rec.CommittedIDs {
		if id == videoID {
			return true
		}
	}
	return false
}

// Store persists batch progress to one JSON file per batch. A background
// persistence goroutine performs the periodic writes; Finalize and Close
// flush synchronously from the caller. Updates for a channel are throttled
// so that at most one write per channel happens per throttle window, except
// terminal-state updates which flush immediately.
type Store struct {
	dir       string
	batchID   string
	snapshot  *Snapshot
	inputs    map[string]string
	lastFlush map[string]time.Time
	throttle  time.Duration
	dirty     bool
	logger    *zap.Logger
	mu        sync.Mutex
	writeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewStore creates a checkpoint store writing to dir/<batchID>.json.
func NewStore(dir, batchID string, startedAt time.Time, logger *zap.Logger) *Store {
	return NewStoreWithThrottle(dir, batchID, startedAt, constants.CheckpointConfig.ChannelThrottle, logger)
}

// NewStoreWithThrottle creates a store with a custom per-channel write
// throttle.
func NewStoreWithThrottle(dir, batchID string, startedAt time.Time, throttle time.Duration, logger *zap.Logger) *Store {
	st := &Store{
		dir:     dir,
		batchID: batchID,
		snapshot: &Snapshot{
			SchemaVersion: constants.CheckpointConfig.SchemaVersion,
			BatchID:       batchID,
			StartedAt:     startedAt,
			Channels:      make(map[string]*ChannelRecord),
		},
		inputs:    make(map[string]string),
		lastFlush: make(map[string]time.Time),
		throttle:  throttle,
		logger:    logger,
		writeCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}
	go st.writer()
	return st
}

// Path returns the checkpoint file location.
func (st *Store) Path() string {
	return filepath.Join(st.dir, st.batchID+".json")
}

// BindInput remembers which raw input resolved to a channel id, so resumes
// can skip finished channels without re-resolving them.
func (st *Store) BindInput(channelID, input string) {
	st.mu.Lock()
	st.inputs[channelID] = input
	st.mu.Unlock()
}

// Update records the current progress of one channel. Writes are throttled
// per channel; terminal state changes flush immediately.
func (st *Store) Update(progress *domain.ChannelProgress) {
	st.mu.Lock()
	rec := &ChannelRecord{
		ChannelID:    progress.ChannelID,
		Input:        st.inputs[progress.ChannelID],
		Title:        progress.Title,
		State:        progress.State,
		Total:        progress.Total,
		Processed:    progress.Processed,
		Successes:    progress.Successes,
		Failures:     progress.Failures,
		Skips:        progress.Skips,
		CommittedIDs: append([]string(nil), progress.CommittedVideoIDs...),
	}
	st.snapshot.Channels[progress.ChannelID] = rec
	st.snapshot.UpdatedAt = time.Now()

	now := time.Now()
	last := st.lastFlush[progress.ChannelID]
	terminal := progress.State.Finished()
	if !terminal && now.Sub(last) < st.throttle {
		st.dirty = true
		st.mu.Unlock()
		return
	}
	st.lastFlush[progress.ChannelID] = now
	st.dirty = true
	st.mu.Unlock()

	select {
	case st.writeCh <- struct{}{}:
	default:
	}
}

// Finalize stores the batch result and flushes synchronously.
func (st *Store) Finalize(result *domain.BatchResult) error {
	st.mu.Lock()
	st.snapshot.Result = result
	st.snapshot.UpdatedAt = time.Now()
	st.mu.Unlock()
	return st.flush()
}

// Close stops the persistence goroutine after a final flush.
func (st *Store) Close() {
	st.closeOnce.Do(func() {
		close(st.doneCh)
		if err := st.flush(); err != nil {
			st.logger.Warn("checkpoint final flush failed", zap.Error(err))
		}
	})
}

// writer is the single persistence goroutine.
func (st *Store) writer() {
	ticker := time.NewTicker(st.throttle)
	defer ticker.Stop()
	for {
		select {
		case <-st.doneCh:
			return
		case <-st.writeCh:
		case <-ticker.C:
		}

		st.mu.Lock()
		dirty := st.dirty
		st.mu.Unlock()
		if !dirty {
			continue
		}
		if err := st.flush(); err != nil {
			st.logger.Warn("checkpoint write failed", zap.Error(err))
		}
	}
}

func (st *Store) flush() error {
	st.mu.Lock()
	data, err := json.MarshalIndent(st.snapshot, "", "  ")
	st.dirty = false
	st.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return atomicWrite(st.Path(), data)
}

// Load reads the checkpoint of a previous batch for resumption.
func Load(dir, batchID string) (*Snapshot, error) {
	path := filepath.Join(dir, batchID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if snap.SchemaVersion != constants.CheckpointConfig.SchemaVersion {
		return nil, fmt.Errorf("unsupported checkpoint schema version %d", snap.SchemaVersion)
	}
	if snap.Channels == nil {
		snap.Channels = make(map[string]*ChannelRecord)
	}
	return &snap, nil
}
