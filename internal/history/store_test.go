package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"infobot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func archivedMsg(id, sender string, role domain.Role, detected time.Time) *domain.Message {
	return &domain.Message{
		ID:          id,
		Sender:      sender,
		Content:     "檢測到新活動",
		DetectedAt:  detected,
		ProcessedAt: detected.Add(time.Second),
		Role:        role,
		Processed:   true,
	}
}

func TestRecordAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	msg := archivedMsg("m1", "张老师", domain.RoleSource, now)
	if err := s.RecordMessage(ctx, msg, true); err != nil {
		t.Fatalf("record message: %v", err)
	}

	got, err := s.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 archived message, got %d", len(got))
	}
	m := got[0]
	if m.ID != "m1" || m.Sender != "张老师" || m.Role != "source" || !m.Forwarded {
		t.Fatalf("unexpected row: %+v", m)
	}
	if m.ProcessedAt.IsZero() {
		t.Fatal("processed_at must round-trip")
	}
}

func TestRecordMessage_UpsertKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := archivedMsg("m1", "张老师", domain.RoleSource, time.Now())
	if err := s.RecordMessage(ctx, msg, false); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := s.RecordMessage(ctx, msg, true); err != nil {
		t.Fatalf("second record: %v", err)
	}

	got, err := s.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("re-recording must not duplicate, got %d rows", len(got))
	}
	if !got[0].Forwarded {
		t.Fatal("re-record must update the forwarded flag")
	}
}

func TestDeliveryStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	msg := archivedMsg("m1", "张老师", domain.RoleSource, now)
	if err := s.RecordMessage(ctx, msg, true); err != nil {
		t.Fatalf("record message: %v", err)
	}
	for target, success := range map[string]bool{"A": true, "B": false, "C": true} {
		if err := s.RecordDelivery(ctx, "m1", target, success, now); err != nil {
			t.Fatalf("record delivery %s: %v", target, err)
		}
	}

	ok, failed, err := s.DeliveryStats(ctx, "m1")
	if err != nil {
		t.Fatalf("delivery stats: %v", err)
	}
	if ok != 2 || failed != 1 {
		t.Fatalf("stats: got ok=%d failed=%d, want 2/1", ok, failed)
	}
}

func TestPrune_EvictsOldMessagesAndDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := archivedMsg("old", "张老师", domain.RoleSource, now.Add(-8*24*time.Hour))
	fresh := archivedMsg("fresh", "张老师", domain.RoleSource, now)
	for _, m := range []*domain.Message{old, fresh} {
		if err := s.RecordMessage(ctx, m, false); err != nil {
			t.Fatalf("record %s: %v", m.ID, err)
		}
	}
	if err := s.RecordDelivery(ctx, "old", "A", true, old.DetectedAt); err != nil {
		t.Fatalf("record delivery: %v", err)
	}

	removed, err := s.Prune(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned message, got %d", removed)
	}

	got, err := s.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("only the fresh message must survive, got %+v", got)
	}

	ok, failed, err := s.DeliveryStats(ctx, "old")
	if err != nil {
		t.Fatalf("delivery stats: %v", err)
	}
	if ok != 0 || failed != 0 {
		t.Fatalf("pruned message must lose its deliveries, got ok=%d failed=%d", ok, failed)
	}
}
