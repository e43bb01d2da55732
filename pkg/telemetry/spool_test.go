package telemetry

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func spoolBatch(ids ...string) []*Event {
	batch := make([]*Event, len(ids))
	for i, id := range ids {
		batch[i] = &Event{ID: id, Kind: KindCommand, SourceIP: "10.0.0.9"}
	}
	return batch
}

func TestSpoolAppendDrainFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.cbor")
	s, err := NewSpool(path, 8)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}

	if err := s.Append(spoolBatch("a", "b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(spoolBatch("c")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	batches, err := s.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("drained %d batches, want 2", len(batches))
	}
	if batches[0][0].ID != "a" || batches[1][0].ID != "c" {
		t.Fatalf("FIFO order broken: %v %v", batches[0][0].ID, batches[1][0].ID)
	}
	if s.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", s.Len())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("spool file should be removed after drain")
	}
}

func TestSpoolOverflowDropsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.cbor")
	s, err := NewSpool(path, 2)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}

	for _, id := range []string{"one", "two", "three"} {
		if err := s.Append(spoolBatch(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	batches, err := s.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("drained %d, want 2", len(batches))
	}
	if batches[0][0].ID != "two" || batches[1][0].ID != "three" {
		t.Fatalf("oldest batch should be gone, got %s %s", batches[0][0].ID, batches[1][0].ID)
	}
}

func TestSpoolRecoversBatchCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.cbor")
	s, err := NewSpool(path, 8)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	if err := s.Append(spoolBatch("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(spoolBatch("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reopened, err := NewSpool(path, 8)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("recovered Len = %d, want 2", reopened.Len())
	}
}

func TestSpoolToleratesTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.cbor")
	s, err := NewSpool(path, 8)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	if err := s.Append(spoolBatch("good")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a crash mid-append: a frame header promising more bytes
	// than were written.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 500)
	f.Write(lenBuf[:])
	f.Write([]byte("partial"))
	f.Close()

	reopened, err := NewSpool(path, 8)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("recovered Len = %d, want 1", reopened.Len())
	}
	batches, err := reopened.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(batches) != 1 || batches[0][0].ID != "good" {
		t.Fatalf("intact frame lost: %v", batches)
	}
}
