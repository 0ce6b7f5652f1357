package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Zerofisher/hcisnoop/capture"
	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/memory"
	"github.com/Zerofisher/hcisnoop/pkg/ingest"
	"github.com/Zerofisher/hcisnoop/ringbuf"
	"github.com/Zerofisher/hcisnoop/stats"
)

// Status lines for the valid-but-empty cases.
const (
	StatusNoNewData    = "no new data: all the cache buffer has been read"
	StatusEmptyHistory = "buffer history is empty"
)

// ExtractConfig holds extraction configuration.
type ExtractConfig struct {
	Buffer  string // buffer name, usually the device path
	Output  string
	Format  capture.Format
	Mode    ringbuf.Mode
	Filter  string
	Index   bool
	Locator ringbuf.Locator
	Source  memory.Source
	Stats   *stats.Manager // optional
	Log     logrus.FieldLogger
}

// ExtractResult reports what an extraction did.
type ExtractResult struct {
	Status     string
	Written    bool // an output file was created
	Descriptor ringbuf.Descriptor
	Result     *extract.Result
	Index      *ingest.Result
}

// RunExtract executes the extraction flow: locate -> check -> frame -> write.
// The empty states are reported through Status with a nil error and leave
// the filesystem untouched.
func RunExtract(ctx context.Context, cfg ExtractConfig) (*ExtractResult, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	// 1. Compile packet filter
	filterFunc, err := CompilePacketFilter(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("error compiling packet filter: %w", err)
	}

	// 2. Locate and check the buffer before touching the output
	d, err := cfg.Locator.Lookup(cfg.Buffer)
	if err != nil {
		return nil, err
	}
	out := &ExtractResult{Descriptor: d}
	log.WithField("buffer", cfg.Buffer).Debugf("descriptor %s", d)

	switch err := extract.Check(d, cfg.Mode); {
	case errors.Is(err, extract.ErrNothingToExtract):
		out.Status = StatusNoNewData
		return out, nil
	case errors.Is(err, extract.ErrEmptyHistory):
		out.Status = StatusEmptyHistory
		return out, nil
	case err != nil:
		return nil, err
	}

	if cfg.Source == nil {
		return nil, ErrNoSource
	}

	// 3. Open sinks
	w, err := capture.Create(cfg.Output, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extract.ErrIO, err)
	}
	out.Written = true

	ex := extract.New(ringbuf.NewReader(cfg.Source), log)
	ex.Filter = filterFunc
	ex.AddSink(w)
	if cfg.Stats != nil {
		ex.AddObserver(cfg.Stats)
	}

	var ix *ingest.Indexer
	if cfg.Index {
		ix, err = ingest.New(ingest.Config{
			CapturePath: cfg.Output,
			Buffer:      cfg.Buffer,
			Descriptor:  d,
			Mode:        cfg.Mode,
		})
		if err != nil {
			w.Close()
			return out, fmt.Errorf("error creating index: %w", err)
		}
		ex.AddSink(ix)
	}

	// 4. Frame
	res, runErr := ex.Run(ctx, d, cfg.Mode)
	out.Result = res
	closeErr := w.Close()

	if ix != nil {
		if runErr != nil {
			if err := ix.Abort(res); err != nil {
				log.WithError(err).Warn("closing incomplete index")
			}
		} else {
			out.Index, err = ix.Finish(res)
			if err != nil {
				return out, fmt.Errorf("error writing index: %w", err)
			}
		}
	}

	if runErr != nil {
		return out, runErr
	}
	if closeErr != nil {
		return out, fmt.Errorf("%w: %w", extract.ErrIO, closeErr)
	}

	out.Status = fmt.Sprintf("wrote %d packets to %s", res.Packets, cfg.Output)
	return out, nil
}
