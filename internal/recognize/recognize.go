// Package recognize implements the Recognition Driver (C6): it turns a
// batch of classroom-photo work items into RecognitionResults, either one
// at a time in the calling goroutine or farmed out to a bounded worker
// pool.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/mirahollis/classphoto-organizer/internal/faceengine"
	"github.com/mirahollis/classphoto-organizer/internal/imageio"
	"github.com/mirahollis/classphoto-organizer/internal/matcher"
	"github.com/mirahollis/classphoto-organizer/internal/recognition"
)

// Options advises the Driver's mode decision and bounds parallel execution.
type Options struct {
	Enabled       bool // master allow for parallel mode (config: parallel.enabled)
	Workers       int
	ChunkSize     int
	MinPhotos     int
	ForceSerial   bool
	ForceParallel bool
	Quiet         bool
}

// Driver recognizes classroom photos against a fixed, read-only known-face
// set for the lifetime of one batch.
type Driver struct {
	Engine      *faceengine.Client
	Matcher     *matcher.Matcher
	KnownNames  []string
	MinFaceSize int
	Logger      *slog.Logger
}

// Item pairs a work item with its recognition outcome.
type Item struct {
	Work   recognition.WorkItem
	Result recognition.Result
}

// BatchOutcome reports what the driver actually did, for the report (C10).
type BatchOutcome struct {
	Items           []Item
	Mode            string // "serial" or "parallel"
	FellBackToSerial bool
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// decideMode implements the parallel-vs-serial mode decision.
// The ForceSerial/ForceParallel toggles take priority over the batch-size
// threshold.
func decideMode(n int, opts Options) string {
	if opts.ForceSerial {
		return "serial"
	}
	if opts.ForceParallel && opts.Workers >= 2 {
		return "parallel"
	}
	if n >= opts.MinPhotos && opts.Enabled && opts.Workers >= 2 {
		return "parallel"
	}
	return "serial"
}

// RecognizeBatch recognizes every item in work, choosing serial or
// parallel execution per the mode decision, and returns one Item per input
// work item (order not guaranteed to match input order).
func (d *Driver) RecognizeBatch(ctx context.Context, work []recognition.WorkItem, opts Options) BatchOutcome {
	mode := decideMode(len(work), opts)
	if mode == "serial" {
		return BatchOutcome{Items: d.recognizeSerial(ctx, work, opts), Mode: "serial"}
	}

	items, err := d.recognizeParallel(ctx, work, opts)
	if err != nil {
		d.logger().Warn("recognize: parallel pool failed, falling back to serial", "error", err)
		return BatchOutcome{Items: d.recognizeSerial(ctx, work, opts), Mode: "serial", FellBackToSerial: true}
	}
	return BatchOutcome{Items: items, Mode: "parallel"}
}

func (d *Driver) recognizeSerial(ctx context.Context, work []recognition.WorkItem, opts Options) []Item {
	var bar *progressbar.ProgressBar
	if !opts.Quiet {
		bar = progressbar.NewOptions(len(work),
			progressbar.OptionSetDescription("Recognizing classroom photos (serial)"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	items := make([]Item, len(work))
	for i, w := range work {
		items[i] = Item{Work: w, Result: d.recognizeOne(ctx, w)}
		if bar != nil {
			bar.Add(1)
		}
	}
	return items
}

// recognizeParallel: a counting semaphore bounds concurrency to
// opts.Workers, a buffered results channel sized to the batch collects
// outcomes correlated by index, and a WaitGroup signals completion. Work
// items are handed to workers in chunks of opts.ChunkSize; a worker
// processes the items of its chunk in order.
func (d *Driver) recognizeParallel(ctx context.Context, work []recognition.WorkItem, opts Options) ([]Item, error) {
	workers := opts.Workers
	if workers < 2 {
		return nil, fmt.Errorf("recognize: parallel mode requires at least 2 workers, got %d", workers)
	}

	type indexed struct {
		index int
		item  Item
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 12
	}

	var bar *progressbar.ProgressBar
	if !opts.Quiet {
		bar = progressbar.NewOptions(len(work),
			progressbar.OptionSetDescription(fmt.Sprintf("Recognizing classroom photos (%d workers)", workers)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	results := make(chan indexed, len(work))
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var barMu sync.Mutex

	dispatch := func(start, end int) {
		defer wg.Done()
		semaphore <- struct{}{}
		defer func() { <-semaphore }()

		for idx := start; idx < end; idx++ {
			w := work[idx]
			r := d.recognizeOne(ctx, w)
			results <- indexed{index: idx, item: Item{Work: w, Result: r}}

			if bar != nil {
				barMu.Lock()
				bar.Add(1)
				barMu.Unlock()
			}
		}
	}

	for start := 0; start < len(work); start += chunkSize {
		end := start + chunkSize
		if end > len(work) {
			end = len(work)
		}
		wg.Add(1)
		go dispatch(start, end)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	items := make([]Item, len(work))
	for r := range results {
		items[r.index] = r.item
	}
	return items, nil
}

// recognizeOne runs C1 -> C2 -> C7 for a single work item. It never
// returns an error: every failure becomes a RecognitionResult with status
// error and a short error-kind code, so one bad photo never aborts a
// batch.
func (d *Driver) recognizeOne(ctx context.Context, w recognition.WorkItem) recognition.Result {
	buf, err := imageio.Load(w.AbsPath)
	if err != nil {
		d.logger().Warn("recognize: unreadable classroom photo", "photo", w.RelPath, "date", w.Date, "error", err)
		return recognition.Result{Status: recognition.StatusError, ErrorKind: "unreadable_image"}
	}

	jpegData, err := imageio.EncodeJPEG(buf, 90)
	if err != nil {
		d.logger().Warn("recognize: failed to encode classroom photo for backend", "photo", w.RelPath, "date", w.Date, "error", err)
		return recognition.Result{Status: recognition.StatusError, ErrorKind: "encode_failed"}
	}

	faces, err := d.Engine.Detect(ctx, jpegData)
	if err != nil {
		if errors.Is(err, faceengine.ErrNoFaces) {
			return recognition.Result{Status: recognition.StatusNoFace, TotalFaces: 0}
		}
		d.logger().Warn("recognize: face backend call failed", "photo", w.RelPath, "date", w.Date, "error", err)
		return recognition.Result{Status: recognition.StatusError, ErrorKind: "backend_failed"}
	}

	result := recognition.Result{Status: recognition.StatusSuccess}
	seenNames := map[string]bool{}

	for _, f := range faces {
		if !meetsMinSize(f.BBox, d.MinFaceSize) {
			continue
		}
		result.TotalFaces++

		m := d.Matcher.Match(f.Embedding)
		outcome := recognition.FaceOutcome{BBox: f.BBox, Distance: m.Distance}

		if m.Residual {
			outcome.Residual = true
			outcome.Embedding = f.Embedding
		} else {
			name := d.KnownNames[m.Index]
			outcome.Name = name
			if !seenNames[name] {
				seenNames[name] = true
				result.MatchedNames = append(result.MatchedNames, name)
			}
		}
		result.Faces = append(result.Faces, outcome)
	}

	return result
}

func meetsMinSize(bbox [4]float64, minSize int) bool {
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	longest := w
	if h > longest {
		longest = h
	}
	return longest >= float64(minSize)
}
