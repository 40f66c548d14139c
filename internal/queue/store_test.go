package queue

import (
	"fmt"
	"testing"
	"time"

	"infobot/internal/domain"
)

func testStore(maxProcessed int) *Store {
	roles := domain.NewRoles(
		[]string{"张老师", "李老师"},
		[]string{"王同学", "赵同学"},
	)
	return NewStore(StoreConfig{Roles: roles, MaxProcessed: maxProcessed})
}

func TestIngest_AssignsRoleOnce(t *testing.T) {
	s := testStore(0)

	m := s.Ingest("张老师", "明天考试")
	if m.Role != domain.RoleSource {
		t.Fatalf("expected source role, got %s", m.Role)
	}
	if m.Processed {
		t.Fatal("new message must start unprocessed")
	}
	if m.ID == "" {
		t.Fatal("message must get an ID")
	}

	if got := s.Ingest("王同学", "收到").Role; got != domain.RoleTarget {
		t.Fatalf("expected target role, got %s", got)
	}
	if got := s.Ingest("路人甲", "hello").Role; got != domain.RoleUnknown {
		t.Fatalf("unknown sender must be queued as unknown, got %s", got)
	}
	if s.PendingCount() != 3 {
		t.Fatalf("expected 3 pending, got %d", s.PendingCount())
	}
}

func TestPending_InsertionOrder(t *testing.T) {
	s := testStore(0)

	for i := 0; i < 5; i++ {
		s.Ingest(fmt.Sprintf("contact-%d", i), "msg")
	}

	pending := s.Pending()
	if len(pending) != 5 {
		t.Fatalf("expected 5 pending, got %d", len(pending))
	}
	for i, m := range pending {
		want := fmt.Sprintf("contact-%d", i)
		if m.Sender != want {
			t.Fatalf("pending[%d]: expected %s, got %s", i, want, m.Sender)
		}
	}
}

func TestMarkProcessed_MovesAndStamps(t *testing.T) {
	s := testStore(0)
	detected := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := detected.Add(2 * time.Minute)
	s.now = func() time.Time { return detected }

	m := s.Ingest("张老师", "通知")

	s.now = func() time.Time { return completed }
	if !s.MarkProcessed(m) {
		t.Fatal("first MarkProcessed must succeed")
	}

	if s.PendingCount() != 0 {
		t.Fatalf("expected empty pending, got %d", s.PendingCount())
	}
	if !m.Processed {
		t.Fatal("message must be flagged processed")
	}
	// Detection time survives processing; only the completion time is stamped.
	if !m.DetectedAt.Equal(detected) {
		t.Fatalf("DetectedAt overwritten: got %v, want %v", m.DetectedAt, detected)
	}
	if !m.ProcessedAt.Equal(completed) {
		t.Fatalf("ProcessedAt: got %v, want %v", m.ProcessedAt, completed)
	}
}

func TestMarkProcessed_SecondCallRejected(t *testing.T) {
	s := testStore(0)
	m := s.Ingest("张老师", "通知")

	if !s.MarkProcessed(m) {
		t.Fatal("first call must succeed")
	}
	if s.MarkProcessed(m) {
		t.Fatal("second call must be rejected")
	}

	count := 0
	for _, p := range s.processed {
		if p.ID == m.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("processed partition holds the message %d times, want 1", count)
	}
}

func TestProcessedCap_FIFOEviction(t *testing.T) {
	s := testStore(1000)

	var first *domain.Message
	for i := 0; i < 1001; i++ {
		m := s.Ingest(fmt.Sprintf("c-%d", i), "x")
		if i == 0 {
			first = m
		}
		s.MarkProcessed(m)
	}

	if len(s.processed) != 1000 {
		t.Fatalf("expected cap of 1000, got %d", len(s.processed))
	}
	for _, m := range s.processed {
		if m.ID == first.ID {
			t.Fatal("oldest message should have been evicted first")
		}
	}
	if s.processed[len(s.processed)-1].Sender != "c-1000" {
		t.Fatalf("most recent message missing, tail is %s", s.processed[len(s.processed)-1].Sender)
	}
}

func TestSweep_RetentionWindow(t *testing.T) {
	s := testStore(0)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-8 * 24 * time.Hour) }
	old := s.Ingest("张老师", "old notice")

	s.now = func() time.Time { return now.Add(-6 * 24 * time.Hour) }
	recent := s.Ingest("张老师", "recent notice")
	s.MarkProcessed(recent)

	s.now = func() time.Time { return now }
	removed := s.Sweep(7 * 24 * time.Hour)

	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	for _, m := range s.Pending() {
		if m.ID == old.ID {
			t.Fatal("8-day-old message must be swept from pending")
		}
	}
	found := false
	for _, m := range s.processed {
		if m.ID == recent.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("6-day-old message must survive the sweep")
	}
}

func TestCountSourceMessages_WindowAndRole(t *testing.T) {
	s := testStore(0)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-30 * time.Hour) }
	s.Ingest("张老师", "outside window")

	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	inWindow := s.Ingest("张老师", "inside window")
	s.Ingest("王同学", "target message, not counted")

	s.MarkProcessed(inWindow) // processed messages still count by detection time

	s.now = func() time.Time { return now }
	if got := s.CountSourceMessages(24 * time.Hour); got != 1 {
		t.Fatalf("expected 1 source message in window, got %d", got)
	}
}
