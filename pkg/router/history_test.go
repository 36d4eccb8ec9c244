package router

import (
	"testing"
	"time"

	"github.com/kabili207/mesh-relay-node/pkg/clock"
)

func newTestHistory(capacity int, timeout time.Duration) (*PacketHistory, *clock.Manual) {
	c := clock.NewManual(time.Unix(1704067200, 0))
	h := NewPacketHistory(HistoryOptions{
		Capacity:     capacity,
		FloodTimeout: timeout,
		Clock:        c,
	})
	return h, c
}

func TestPacketNotSeenReturnsFalse(t *testing.T) {
	h, _ := newTestHistory(0, 0)
	if h.WasSeenRecently(0, 1) {
		t.Error("unrecorded packet reported as seen")
	}
}

func TestPacketSeenReturnsTrue(t *testing.T) {
	h, _ := newTestHistory(0, 0)

	if h.WasSeenRecently(0, 1) {
		t.Fatal("packet seen before it was recorded")
	}
	h.RecordSeen(0, 1)
	if !h.WasSeenRecently(0, 1) {
		t.Error("recorded packet not reported as seen")
	}
}

func TestIdentityIgnoresTime(t *testing.T) {
	h, c := newTestHistory(0, time.Minute)

	h.RecordSeen(2, 1)
	c.Advance(30 * time.Second)

	if !h.WasSeenRecently(2, 1) {
		t.Error("same sender and id at a later time should match")
	}
}

func TestIdentityIsSenderAndID(t *testing.T) {
	tests := []struct {
		name      string
		sender    uint32
		id        uint32
		wantMatch bool
	}{
		{"same id and sender", 2, 1, true},
		{"same id diff sender", 4, 1, false},
		{"diff id same sender", 2, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHistory(0, 0)
			h.RecordSeen(2, 1)
			if got := h.WasSeenRecently(tt.sender, tt.id); got != tt.wantMatch {
				t.Errorf("WasSeenRecently(%d, %d) = %v, want %v", tt.sender, tt.id, got, tt.wantMatch)
			}
		})
	}
}

func TestRerecordRefreshesInPlace(t *testing.T) {
	h, c := newTestHistory(0, time.Minute)

	h.RecordSeen(2, 1)
	c.Advance(45 * time.Second)
	h.RecordSeen(2, 1)

	if h.Len() != 1 {
		t.Fatalf("Len() = %d after re-recording, want 1", h.Len())
	}

	// 90s after the first record but only 45s after the refresh.
	c.Advance(45 * time.Second)
	if !h.WasSeenRecently(2, 1) {
		t.Error("refresh did not replace the stored timestamp")
	}
}

func TestExpiredPacketsCleared(t *testing.T) {
	h, c := newTestHistory(0, time.Millisecond)

	h.RecordSeen(0, 1)
	c.Advance(2 * time.Millisecond)

	if removed := h.ClearExpired(); removed != 1 {
		t.Errorf("ClearExpired() removed %d, want 1", removed)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", h.Len())
	}
	if h.WasSeenRecently(0, 1) {
		t.Error("expired packet still reported as seen")
	}
}

func TestRecordAtExactTimeoutIsKept(t *testing.T) {
	h, c := newTestHistory(0, time.Minute)

	h.RecordSeen(0, 1)
	c.Advance(time.Minute)

	if h.ClearExpired() != 0 {
		t.Error("record aged exactly the flood timeout should survive the sweep")
	}
	if !h.WasSeenRecently(0, 1) {
		t.Error("record aged exactly the flood timeout should still be seen")
	}
}

func TestQueryIsReadOnly(t *testing.T) {
	h, c := newTestHistory(0, time.Millisecond)

	h.RecordSeen(0, 1)
	c.Advance(2 * time.Millisecond)

	if h.WasSeenRecently(0, 1) {
		t.Error("expired record reported as seen")
	}
	if h.Len() != 1 {
		t.Errorf("query removed records: Len() = %d, want 1", h.Len())
	}
}

func TestFillThresholdTriggersSweep(t *testing.T) {
	h, c := newTestHistory(10, time.Minute)

	for i := uint32(0); i < 5; i++ {
		h.RecordSeen(1, i)
	}
	c.Advance(2 * time.Minute)

	// Inserts 6 through 9 stay at or below 90% of 10.
	for i := uint32(5); i < 9; i++ {
		h.RecordSeen(1, i)
	}
	if h.Len() != 9 {
		t.Fatalf("Len() = %d before crossing the threshold, want 9", h.Len())
	}

	h.RecordSeen(1, 9)
	if h.Len() != 5 {
		t.Errorf("Len() = %d after crossing the threshold, want 5", h.Len())
	}
	for i := uint32(5); i < 10; i++ {
		if !h.WasSeenRecently(1, i) {
			t.Errorf("fresh record %d removed by sweep", i)
		}
	}
}

func TestBelowThresholdKeepsExpired(t *testing.T) {
	h, c := newTestHistory(100, time.Millisecond)

	h.RecordSeen(1, 1)
	c.Advance(time.Second)
	h.RecordSeen(1, 2)

	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2: no sweep should run below the threshold", h.Len())
	}
}

func TestClear(t *testing.T) {
	h, _ := newTestHistory(0, 0)
	h.RecordSeen(1, 1)
	h.RecordSeen(1, 2)
	h.Clear()
	if h.Len() != 0 || h.WasSeenRecently(1, 1) {
		t.Error("Clear() left records behind")
	}
}

func TestHistoryDefaults(t *testing.T) {
	h := NewPacketHistory(HistoryOptions{FillThreshold: 3})
	if h.Capacity() != DefaultHistoryCapacity {
		t.Errorf("Capacity() = %d, want %d", h.Capacity(), DefaultHistoryCapacity)
	}
	if h.FloodTimeout() != DefaultFloodTimeout {
		t.Errorf("FloodTimeout() = %v, want %v", h.FloodTimeout(), DefaultFloodTimeout)
	}
	if h.opts.FillThreshold != DefaultFillThreshold {
		t.Errorf("FillThreshold = %v, want %v", h.opts.FillThreshold, DefaultFillThreshold)
	}
}
