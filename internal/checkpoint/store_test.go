package checkpoint

import (
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
)

func progressFixture(state domain.ChannelState, committed ...string) *domain.ChannelProgress {
	return &domain.ChannelProgress{
		ChannelID:         "UCabc",
		State:             state,
		Total:             10,
		Processed:         len(committed),
		Successes:         len(committed),
		CommittedVideoIDs: committed,
		StartedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "batch-1", time.Now(), zap.NewNop())

	st.Update(progressFixture(domain.ChannelRunning, "v1", "v2"))
	st.Update(progressFixture(domain.ChannelDone, "v1", "v2", "v3"))
	st.Close()

	snap, err := Load(dir, "batch-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.BatchID != "batch-1" {
		t.Fatalf("batch id = %q", snap.BatchID)
	}
	rec, ok := snap.Channels["UCabc"]
	if !ok {
		t.Fatal("channel record missing")
	}
	if rec.State != domain.ChannelDone {
		t.Fatalf("state = %v, want DONE", rec.State)
	}
	if !snap.Committed("UCabc", "v3") {
		t.Fatal("v3 must be committed")
	}
	if snap.Committed("UCabc", "v9") {
		t.Fatal("v9 must not be committed")
	}
}

func TestStoreThrottlesPerChannel(t *testing.T) {
	dir := t.TempDir()
	// A huge throttle suppresses every flush after a channel's first one,
	// except terminal states.
	st := NewStoreWithThrottle(dir, "batch-2", time.Now(), time.Hour, zap.NewNop())

	st.Update(progressFixture(domain.ChannelRunning, "v1"))
	// Throttled update: recorded in memory, not yet flushed.
	st.Update(progressFixture(domain.ChannelRunning, "v1", "v2"))
	// Terminal update flushes immediately despite throttle.
	st.Update(progressFixture(domain.ChannelDone, "v1", "v2", "v3"))
	st.Close()

	snap, err := Load(dir, "batch-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(snap.Channels["UCabc"].CommittedIDs); got != 3 {
		t.Fatalf("committed ids = %d, want 3 (latest state persisted)", got)
	}
}

func TestStoreWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "batch-3", time.Now(), zap.NewNop())
	st.Update(progressFixture(domain.ChannelDone, "v1"))
	st.Close()

	// No temp droppings left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	if _, err := Load(t.TempDir(), "nope"); err == nil {
		t.Fatal("expected error for missing checkpoint")
	}
}
