// Package queue holds the durable in-process message record store: a
// pending partition drained by the orchestrator and a capped processed
// partition kept for reporting.
package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"infobot/internal/domain"
)

// Store classifies incoming activity into role-tagged messages and tracks
// them through the pending -> processed lifecycle. All methods are safe for
// concurrent use: monitor units append via Ingest while the orchestrator
// drains, so the pending partition is single-consumer, multi-producer.
type Store struct {
	mu           sync.Mutex
	pending      []*domain.Message
	processed    []*domain.Message
	roles        *domain.Roles
	maxProcessed int
	logger       *slog.Logger

	now func() time.Time // test seam
}

// StoreConfig configures the message store.
type StoreConfig struct {
	Roles        *domain.Roles
	MaxProcessed int // processed-partition cap, FIFO-evicted (default 1000)
	Logger       *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxProcessed <= 0 {
		cfg.MaxProcessed = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		roles:        cfg.Roles,
		maxProcessed: cfg.MaxProcessed,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// Ingest creates a Message for a detected activity event and appends it to
// the pending partition. Unknown senders are never rejected; they are tagged
// RoleUnknown and queued so downstream policy decides their disposition.
// The role is resolved exactly once, here.
func (s *Store) Ingest(sender, content string) *domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &domain.Message{
		ID:         uuid.NewString(),
		Sender:     sender,
		Content:    content,
		DetectedAt: s.now(),
		Role:       s.roles.Resolve(sender),
	}
	s.pending = append(s.pending, msg)

	s.logger.Info("message queued",
		"sender", sender,
		"role", msg.Role.String(),
		"pending", len(s.pending),
	)
	return msg
}

// Pending returns the unprocessed messages in insertion order. The returned
// slice is a snapshot; the records themselves are shared.
func (s *Store) Pending() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Message, len(s.pending))
	copy(out, s.pending)
	return out
}

// PendingCount returns the size of the pending partition.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// MarkProcessed moves a message from pending to processed and stamps its
// completion time. DetectedAt is preserved so time-window reporting keeps
// working after processing. Marking an already-processed message is a
// rejected no-op: it returns false and the processed partition never holds
// the message twice.
func (s *Store) MarkProcessed(msg *domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Processed {
		s.logger.Warn("message already processed", "id", msg.ID, "sender", msg.Sender)
		return false
	}

	msg.Processed = true
	msg.ProcessedAt = s.now()

	for i, m := range s.pending {
		if m.ID == msg.ID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}

	s.processed = append(s.processed, msg)
	if len(s.processed) > s.maxProcessed {
		s.processed = s.processed[len(s.processed)-s.maxProcessed:]
	}
	return true
}

// CountSourceMessages counts role=Source messages across both partitions
// whose detection time falls within the window ending now.
func (s *Store) CountSourceMessages(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	count := 0
	for _, m := range s.pending {
		if m.Role == domain.RoleSource && m.DetectedAt.After(cutoff) {
			count++
		}
	}
	for _, m := range s.processed {
		if m.Role == domain.RoleSource && m.DetectedAt.After(cutoff) {
			count++
		}
	}
	return count
}

// Sweep drops messages older than the retention window from both partitions.
// Returns the number of evicted records.
func (s *Store) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	before := len(s.pending) + len(s.processed)

	s.pending = retain(s.pending, cutoff)
	s.processed = retain(s.processed, cutoff)

	removed := before - len(s.pending) - len(s.processed)
	if removed > 0 {
		s.logger.Info("swept old messages", "removed", removed, "retention", retention)
	}
	return removed
}

func retain(msgs []*domain.Message, cutoff time.Time) []*domain.Message {
	kept := msgs[:0]
	for _, m := range msgs {
		if m.DetectedAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	// Clear the tail so evicted records are collectable.
	for i := len(kept); i < len(msgs); i++ {
		msgs[i] = nil
	}
	return kept
}
