package retention_test

import (
	"bufio"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/retention"
	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

func seedPairs(t *testing.T) *store.MemoryStore {
	t.Helper()
	s, err := store.NewMemoryStore(store.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	old := time.Now().UTC().Add(-72 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	for _, p := range []models.Pair{
		{ID: "old-1", Status: models.PairStatusTerminated, CreatedAt: old, TerminatedAt: &old},
		{ID: "old-2", Status: models.PairStatusTerminated, CreatedAt: old, TerminatedAt: &old},
		{ID: "recent", Status: models.PairStatusTerminated, CreatedAt: recent, TerminatedAt: &recent},
		{ID: "live", Status: models.PairStatusActive, CreatedAt: old},
	} {
		p := p
		if err := s.CreatePair(ctx, &p); err != nil {
			t.Fatalf("CreatePair(%s) error = %v", p.ID, err)
		}
	}
	return s
}

func TestRunCycle_PurgeOnly(t *testing.T) {
	s := seedPairs(t)
	j := retention.NewJanitor(s, 24*time.Hour, time.Minute, nil)

	stats := j.RunCycle(context.Background())
	if stats.Err != nil {
		t.Fatalf("RunCycle() error = %v", stats.Err)
	}
	if stats.Purged != 2 {
		t.Errorf("Purged = %d, want 2", stats.Purged)
	}

	pairs, _ := s.ListPairs(context.Background())
	if len(pairs) != 2 {
		t.Errorf("remaining pairs = %d, want 2 (recent + live)", len(pairs))
	}
}

func TestRunCycle_ArchiveThenPurge(t *testing.T) {
	s := seedPairs(t)
	dir := t.TempDir()
	j := retention.NewJanitor(s, 24*time.Hour, time.Minute, retention.NewLocalFileArchiver(dir, false))

	stats := j.RunCycle(context.Background())
	if stats.Err != nil {
		t.Fatalf("RunCycle() error = %v", stats.Err)
	}
	if stats.Archived != 2 || stats.Purged != 2 {
		t.Errorf("stats = %+v, want 2 archived and 2 purged", stats)
	}

	f, err := os.Open(stats.ArchivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("archive has %d lines, want 2", lines)
	}
}

type failingArchiver struct{}

func (failingArchiver) Kind() string { return "broken" }
func (failingArchiver) ArchivePairs(context.Context, []models.Pair) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestRunCycle_ArchiveFailureSkipsPurge(t *testing.T) {
	s := seedPairs(t)
	j := retention.NewJanitor(s, 24*time.Hour, time.Minute, failingArchiver{})

	stats := j.RunCycle(context.Background())
	if stats.Err == nil {
		t.Fatal("RunCycle() should report the archive failure")
	}
	if stats.Purged != 0 {
		t.Errorf("Purged = %d, want 0 after archive failure", stats.Purged)
	}
	pairs, _ := s.ListPairs(context.Background())
	if len(pairs) != 4 {
		t.Errorf("remaining pairs = %d, want 4", len(pairs))
	}
}

func TestRun_DisabledReturnsOnCancel(t *testing.T) {
	s := seedPairs(t)
	j := retention.NewJanitor(s, 0, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
