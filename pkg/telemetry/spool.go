package telemetry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/voslund/decoynet/internal/errx"
)

const (
	// DefaultSpoolMaxBatches bounds how many undelivered batches the spool
	// retains before the oldest are discarded.
	DefaultSpoolMaxBatches = 256

	// maxFrameBytes rejects absurd frame lengths when recovering a spool
	// file that was cut short mid-write.
	maxFrameBytes = 16 << 20
)

// Spool is the durable buffer for event batches that could not be forwarded
// to the control plane. Batches are stored as length-prefixed CBOR frames;
// when the bound is exceeded the oldest batches are dropped and counted.
type Spool struct {
	mu         sync.Mutex
	path       string
	maxBatches int
	batches    int
	logger     *slog.Logger
}

// NewSpool opens (or creates) a spool file and recovers the batch count
// from any frames already present. maxBatches <= 0 selects the default.
func NewSpool(path string, maxBatches int) (*Spool, error) {
	if maxBatches <= 0 {
		maxBatches = DefaultSpoolMaxBatches
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errx.Wrap(ErrOpenSpool, err)
		}
	}
	s := &Spool{
		path:       path,
		maxBatches: maxBatches,
		logger:     slog.With("component", "telemetry"),
	}
	frames, err := s.readAll()
	if err != nil {
		return nil, err
	}
	s.batches = len(frames)
	return s, nil
}

// Append stores one batch. If the spool is at capacity the oldest batches
// are discarded first.
func (s *Spool) Append(batch []*Event) error {
	if len(batch) == 0 {
		return nil
	}
	payload, err := cbor.Marshal(batch)
	if err != nil {
		return errx.Wrap(ErrEncodeFrame, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batches >= s.maxBatches {
		if err := s.compactLocked(s.maxBatches - 1); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errx.Wrap(ErrOpenSpool, err)
	}
	defer f.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return errx.Wrap(ErrOpenSpool, err)
	}
	if _, err := f.Write(payload); err != nil {
		return errx.Wrap(ErrOpenSpool, err)
	}
	s.batches++
	return nil
}

// Drain removes and returns all spooled batches in FIFO order.
func (s *Spool) Drain() ([][]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}

	batches := make([][]*Event, 0, len(frames))
	for _, frame := range frames {
		var batch []*Event
		if err := cbor.Unmarshal(frame, &batch); err != nil {
			s.logger.Warn("spool_frame_skipped", "error", err)
			continue
		}
		batches = append(batches, batch)
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return nil, errx.Wrap(ErrOpenSpool, err)
	}
	s.batches = 0
	return batches, nil
}

// Len reports the number of spooled batches.
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// compactLocked rewrites the spool keeping only the newest keep batches.
func (s *Spool) compactLocked(keep int) error {
	frames, err := s.readAllLocked()
	if err != nil {
		return err
	}
	if len(frames) <= keep {
		return nil
	}
	dropped := len(frames) - keep
	frames = frames[dropped:]

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, frame := range frames {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
		buf.Write(lenBuf[:])
		buf.Write(frame)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errx.Wrap(ErrOpenSpool, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errx.Wrap(ErrOpenSpool, err)
	}
	s.batches = len(frames)
	metricSpoolDropped.Add(float64(dropped))
	s.logger.Warn("spool_overflow", "dropped_batches", dropped)
	return nil
}

func (s *Spool) readAll() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

// readAllLocked reads every intact frame. A truncated trailing frame is
// tolerated and ignored so a crash mid-append cannot poison the spool.
func (s *Spool) readAllLocked() ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errx.Wrap(ErrOpenSpool, err)
	}
	defer f.Close()

	var frames [][]byte
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("spool_truncated_tail")
				return frames, nil
			}
			return nil, errx.Wrap(ErrOpenSpool, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > maxFrameBytes {
			return frames, errx.With(ErrSpoolCorrupt, ": frame length %d", n)
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(f, frame); err != nil {
			s.logger.Warn("spool_truncated_tail")
			return frames, nil
		}
		frames = append(frames, frame)
	}
}
