// Package ingest builds the SQLite index that accompanies an extracted capture.
// The Indexer is an extract.Sink: summaries are handed to a writer goroutine
// that commits them to the store in batches.
package ingest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/pkg/model"
	"github.com/Zerofisher/hcisnoop/pkg/store"
	"github.com/Zerofisher/hcisnoop/pkg/store/sqlite"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

// ErrClosed is returned when packets are written after Finish or Abort.
var ErrClosed = errors.New("indexer closed")

// Config holds configuration for the indexer.
type Config struct {
	// CapturePath is the capture file the index describes.
	// The database is written next to it as <CapturePath>.idx.db.
	CapturePath string

	// Buffer is the name of the ring buffer being extracted.
	Buffer string

	// Descriptor is the buffer state sampled before extraction.
	Descriptor ringbuf.Descriptor

	// Mode is the extraction mode.
	Mode ringbuf.Mode

	// BatchSize is the number of packets per batch commit.
	// Defaults to 1000 if <= 0.
	BatchSize int
}

// Result holds the result of an indexing run.
type Result struct {
	RunID        string
	IndexPath    string
	TotalPackets int
	TotalBytes   int64
	Duration     time.Duration
}

// Indexer records a summary of every packet it receives.
type Indexer struct {
	cfg   Config
	store store.Store
	path  string
	runID string
	start time.Time

	packets chan *model.PacketSummary
	done    chan struct{}

	mu     sync.Mutex
	err    error
	closed bool

	number int
	bytes  int64
}

var _ extract.Sink = (*Indexer)(nil)

// New opens the index database for cfg.CapturePath and starts the writer.
func New(cfg Config) (*Indexer, error) {
	st, err := sqlite.NewFromCapture(cfg.CapturePath, false)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	ix := NewWithStore(st, cfg)
	ix.path = st.Path()
	return ix, nil
}

// NewWithStore starts an indexer on an already opened store. The indexer
// takes ownership of st and closes it in Finish or Abort.
func NewWithStore(st store.Store, cfg Config) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	ix := &Indexer{
		cfg:     cfg,
		store:   st,
		runID:   uuid.NewString(),
		start:   time.Now(),
		packets: make(chan *model.PacketSummary, cfg.BatchSize*2),
		done:    make(chan struct{}),
	}
	go ix.writerLoop()
	return ix
}

// RunID identifies this extraction run inside the index.
func (ix *Indexer) RunID() string {
	return ix.runID
}

// WritePacket implements extract.Sink.
func (ix *Indexer) WritePacket(pkt *hci.Packet) error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrClosed
	}
	if ix.err != nil {
		err := ix.err
		ix.mu.Unlock()
		return err
	}
	ix.number++
	ix.bytes += int64(pkt.TotalLen)
	summary := model.Summarize(pkt, ix.number, ix.cfg.Descriptor.Capacity)
	ix.mu.Unlock()

	ix.packets <- summary
	return nil
}

// Finish flushes outstanding packets, stores the run metadata and closes
// the store. res may be nil when the framer did not complete.
func (ix *Indexer) Finish(res *extract.Result) (*Result, error) {
	if err := ix.stop(); err != nil {
		ix.store.Close()
		return nil, err
	}

	result := ix.result()
	if err := ix.store.SetMeta(ix.meta(res, res != nil)); err != nil {
		ix.store.Close()
		return nil, fmt.Errorf("save metadata: %w", err)
	}

	return result, ix.store.Close()
}

// Abort stops the writer, records the run as incomplete and closes the store.
// res holds the counters reached before the failure and may be nil.
func (ix *Indexer) Abort(res *extract.Result) error {
	err := ix.stop()
	if errors.Is(err, ErrClosed) {
		return err
	}
	if merr := ix.store.SetMeta(ix.meta(res, false)); err == nil && merr != nil {
		err = fmt.Errorf("save metadata: %w", merr)
	}
	if cerr := ix.store.Close(); err == nil {
		err = cerr
	}
	return err
}

func (ix *Indexer) result() *Result {
	return &Result{
		RunID:        ix.runID,
		IndexPath:    ix.path,
		TotalPackets: ix.number,
		TotalBytes:   ix.bytes,
		Duration:     time.Since(ix.start),
	}
}

func (ix *Indexer) meta(res *extract.Result, complete bool) *model.IndexMeta {
	meta := &model.IndexMeta{
		SchemaVersion: store.SchemaVersion,
		RunID:         ix.runID,
		CapturePath:   ix.cfg.CapturePath,
		Buffer:        ix.cfg.Buffer,
		Mode:          ix.cfg.Mode.String(),
		Base:          ix.cfg.Descriptor.Base,
		Capacity:      ix.cfg.Descriptor.Capacity,
		Head:          ix.cfg.Descriptor.Head,
		Tail:          ix.cfg.Descriptor.Tail,
		ExtractedAt:   ix.start.UTC(),
		TotalPackets:  ix.number,
		TotalBytes:    ix.bytes,
		IndexComplete: complete,
	}
	if res != nil {
		meta.SkippedBytes = res.Desyncs
		meta.Truncated = res.Truncated
	}
	return meta
}

func (ix *Indexer) stop() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrClosed
	}
	ix.closed = true
	ix.mu.Unlock()

	close(ix.packets)
	<-ix.done

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.err
}

func (ix *Indexer) fail(err error) {
	ix.mu.Lock()
	if ix.err == nil {
		ix.err = err
	}
	ix.mu.Unlock()
}

// writerLoop handles batch writing to the store.
func (ix *Indexer) writerLoop() {
	defer close(ix.done)

	batch := make([]*model.PacketSummary, 0, ix.cfg.BatchSize)
	failed := false

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		if err := ix.store.BeginBatch(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}

		if err := ix.store.InsertPackets(batch); err != nil {
			ix.store.RollbackBatch()
			return fmt.Errorf("insert packets: %w", err)
		}

		if err := ix.store.CommitBatch(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}

		batch = batch[:0]
		return nil
	}

	for pkt := range ix.packets {
		// Keep draining after a failure so WritePacket never blocks.
		if failed {
			continue
		}
		batch = append(batch, pkt)
		if len(batch) >= ix.cfg.BatchSize {
			if err := flush(); err != nil {
				ix.fail(err)
				failed = true
			}
		}
	}

	// Final flush
	if !failed {
		if err := flush(); err != nil {
			ix.fail(err)
		}
	}
}
