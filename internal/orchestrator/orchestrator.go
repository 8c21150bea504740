// Package orchestrator implements the Orchestrator (C11): it composes the
// Reference Store, Snapshot Engine, Recognition Cache, Recognition Driver,
// Unknown Clustering, Organizer, and Reporter into one run, in the strict
// phase order R0-R7, and owns the process exit code.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mirahollis/classphoto-organizer/internal/cluster"
	"github.com/mirahollis/classphoto-organizer/internal/config"
	"github.com/mirahollis/classphoto-organizer/internal/faceengine"
	"github.com/mirahollis/classphoto-organizer/internal/imgext"
	"github.com/mirahollis/classphoto-organizer/internal/matcher"
	"github.com/mirahollis/classphoto-organizer/internal/organizer"
	"github.com/mirahollis/classphoto-organizer/internal/reccache"
	"github.com/mirahollis/classphoto-organizer/internal/recognition"
	"github.com/mirahollis/classphoto-organizer/internal/recognize"
	"github.com/mirahollis/classphoto-organizer/internal/reference"
	"github.com/mirahollis/classphoto-organizer/internal/report"
	"github.com/mirahollis/classphoto-organizer/internal/snapshot"
)

// Exit codes, authoritative for the whole process.
const (
	ExitSuccess            = 0
	ExitUnrecoverable      = 1
	ExitMissingClassroom   = 2
	ExitWorkingDirNotWrite = 3
	ExitInvariantViolation = 4
)

// Run holds the most recent run's outcome, kept in memory for the optional
// status server (SPEC_FULL.md's status-server addition).
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Report     report.Data
	InProgress bool
}

// Orchestrator owns one configuration's worth of dependencies and can run
// any number of sequential passes over it. It is not re-entrant: two
// concurrent Run calls against the same output root are outside the
// this type's guarantees: it is documented as not re-entrant.
type Orchestrator struct {
	Config *config.Config
	Engine *faceengine.Client
	Mirror reference.Mirror
	Roster reference.RosterLookup
	Logger *slog.Logger
	Quiet  bool

	mu      chan struct{} // 1-buffered mutex-as-channel, guards lastRun
	lastRun *Run
}

// New builds an Orchestrator from cfg, wiring the face backend client and
// any optional accelerators the caller has already constructed.
func New(cfg *config.Config, engine *faceengine.Client, mirror reference.Mirror, roster reference.RosterLookup, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Config: cfg,
		Engine: engine,
		Mirror: mirror,
		Roster: roster,
		Logger: logger,
		mu:     make(chan struct{}, 1),
	}
}

// LastRun returns a copy of the most recently completed (or in-progress)
// run, for the status server. The zero value's InProgress and ExitCode are
// both zero-valued when no run has ever started.
func (o *Orchestrator) LastRun() Run {
	o.mu <- struct{}{}
	defer func() { <-o.mu }()
	if o.lastRun == nil {
		return Run{}
	}
	return *o.lastRun
}

func (o *Orchestrator) setRun(r Run) {
	o.mu <- struct{}{}
	defer func() { <-o.mu }()
	o.lastRun = &r
}

// Run executes one full pass (phases R0-R7) and returns the process exit
// code the rest of this package documents. It never panics on a recoverable condition;
// every fatal path returns a non-zero code instead.
func (o *Orchestrator) Run(ctx context.Context) int {
	runID := uuid.NewString()
	started := time.Now()
	o.setRun(Run{RunID: runID, StartedAt: started, InProgress: true})

	log := o.Logger.With("run_id", runID)
	cfg := o.Config

	code, data, cancelled := o.run(ctx, log)
	data.RunTimestamp = started
	data.Duration = time.Since(started)
	data.Cancelled = cancelled

	if code == ExitSuccess || code == ExitInvariantViolation {
		if _, err := report.Write(cfg.Paths.OutputRoot, data); err != nil {
			log.Error("orchestrator: failed to write report", "error", err)
			if code == ExitSuccess {
				code = ExitUnrecoverable
			}
		}
	}

	o.setRun(Run{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		ExitCode:   code,
		Report:     data,
		InProgress: false,
	})
	return code
}

// run implements phases R0-R7 and returns the exit code, the report data
// accumulated so far, and whether the run ended via cancellation.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger) (int, report.Data, bool) {
	cfg := o.Config
	data := report.Data{
		Tolerance:     cfg.Recognition.Tolerance,
		MinFaceSize:   cfg.Recognition.MinFaceSize,
		BackendEngine: cfg.Backend.Engine,
		BackendModel:  cfg.Backend.Model,
	}

	classroomRoot := filepath.Join(cfg.Paths.InputRoot, "class_photos")
	referenceRoot := filepath.Join(cfg.Paths.InputRoot, "student_photos")
	outputStateDir := filepath.Join(cfg.Paths.OutputRoot, ".state")

	// Phase R0 — Pre-flight.
	empty, err := dirMissingOrEmpty(classroomRoot)
	if err != nil {
		log.Error("orchestrator: checking classroom root", "path", classroomRoot, "error", err)
		return ExitUnrecoverable, data, false
	}
	if empty {
		log.Error("orchestrator: classroom photo root is missing or empty", "path", classroomRoot,
			"hint", "add dated subdirectories under class_photos/ and re-run")
		return ExitMissingClassroom, data, false
	}
	if refEmpty, err := dirMissingOrEmpty(referenceRoot); err != nil || refEmpty {
		log.Warn("orchestrator: reference photo root is missing or empty; every classroom photo will route to clustering", "path", referenceRoot)
	}
	if err := os.MkdirAll(cfg.Paths.OutputRoot, 0o755); err != nil {
		log.Error("orchestrator: output root not writable", "path", cfg.Paths.OutputRoot, "error", err)
		return ExitWorkingDirNotWrite, data, false
	}

	// Phase R1 — Reference Store.
	descriptor := reference.Descriptor{Engine: cfg.Backend.Engine, Model: cfg.Backend.Model}
	store := reference.New(referenceRoot, cfg.Paths.LogRoot, descriptor, cfg.Recognition.MaxRefsPerPerson, o.Engine)
	store.Mirror = o.Mirror
	store.Roster = o.Roster
	store.Logger = log

	refResult, err := store.Load(ctx)
	if err != nil {
		log.Error("orchestrator: reference store load failed", "error", err)
		return ExitUnrecoverable, data, false
	}

	paramFingerprint := computeParameterFingerprint(cfg, refResult.Fingerprint)

	// Phase R2 — Input reconciliation.
	curr, err := snapshot.Build(classroomRoot, time.Now(), log)
	if err != nil {
		log.Error("orchestrator: snapshot build failed", "error", err)
		return ExitUnrecoverable, data, false
	}
	prev, err := snapshot.Load(outputStateDir)
	if err != nil {
		log.Error("orchestrator: snapshot load failed", "error", err)
		return ExitUnrecoverable, data, false
	}
	plan := snapshot.Diff(prev, curr)

	// Phase R3 — Deletion sync.
	org := &organizer.Organizer{OutputRoot: cfg.Paths.OutputRoot, Logger: log}
	for _, date := range plan.DeletedDates {
		if err := org.DeleteDate(date); err != nil {
			log.Error("orchestrator: deletion sync failed", "date", date, "error", err)
			return ExitUnrecoverable, data, false
		}
		if err := reccache.Delete(outputStateDir, date); err != nil {
			log.Error("orchestrator: deleting recognition cache failed", "date", date, "error", err)
			return ExitUnrecoverable, data, false
		}
		log.Info("orchestrator: removed deleted date from output tree", "date", date)
	}

	mtr := matcher.New(refResult.KnownEmbeddings, cfg.Recognition.Tolerance, cfg.HNSW.MatchThreshold)
	driver := &recognize.Driver{
		Engine:      o.Engine,
		Matcher:     mtr,
		KnownNames:  refResult.KnownNames,
		MinFaceSize: cfg.Recognition.MinFaceSize,
		Logger:      log,
	}
	recognizeOpts := recognize.Options{
		Enabled:       cfg.Parallel.Enabled,
		Workers:       cfg.Parallel.Workers,
		ChunkSize:     cfg.Parallel.ChunkSize,
		MinPhotos:     cfg.Parallel.MinPhotos,
		ForceSerial:   cfg.Parallel.ForceSerial,
		ForceParallel: cfg.Parallel.ForceParallel,
		Quiet:         o.Quiet,
	}

	// Phase R4 — Recognition. Every current date is visited, not only
	// plan.ChangedDates: that list is derived purely from file-content
	// differences and knows nothing about a parameter change (tolerance,
	// min_face_size, backend engine/model). A date whose cache fails the
	// freshness check must be reset and fully recomputed exactly like a
	// changed date, even if none of its files moved.
	resultsByKey := map[string]map[reccache.Key]recognition.Result{}
	fellBackToSerial := false
	cancelled := false

	dates := make([]string, 0, len(curr.Dates))
	for date := range curr.Dates {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			cancelled = true
			break
		}

		cache := reccache.Load(outputStateDir, date)
		if !cache.IsFresh(paramFingerprint) {
			cache.Reset(paramFingerprint)
		}

		bucket := curr.Dates[date]
		var work []recognition.WorkItem
		for _, e := range bucket {
			key := reccache.Key{RelPath: e.RelPath, Size: e.Size, MTime: e.MTime}
			if _, ok := cache.Get(key); ok {
				continue
			}
			work = append(work, recognition.WorkItem{
				Date:    date,
				RelPath: e.RelPath,
				AbsPath: filepath.Join(classroomRoot, e.RelPath),
				Size:    e.Size,
				MTime:   e.MTime,
			})
		}

		if len(work) > 0 {
			outcome := driver.RecognizeBatch(ctx, work, recognizeOpts)
			if outcome.FellBackToSerial {
				fellBackToSerial = true
			}
			for _, item := range outcome.Items {
				key := reccache.Key{RelPath: item.Work.RelPath, Size: item.Work.Size, MTime: item.Work.MTime}
				cache.Put(key, item.Result)
			}
		}

		if err := reccache.SaveAtomic(outputStateDir, cache); err != nil {
			log.Error("orchestrator: saving recognition cache failed", "date", date, "error", err)
			return ExitUnrecoverable, data, false
		}

		byKey := map[reccache.Key]recognition.Result{}
		for _, e := range bucket {
			key := reccache.Key{RelPath: e.RelPath, Size: e.Size, MTime: e.MTime}
			if r, ok := cache.Get(key); ok {
				byKey[key] = r
			}
		}
		resultsByKey[date] = byKey
	}

	// A cancelled run may have broken out before every date was visited.
	// Fall back to whatever is already on disk for those, so R5/R6 still
	// see a result for every current date.
	for date, bucket := range curr.Dates {
		if _, already := resultsByKey[date]; already {
			continue
		}
		cache := reccache.Load(outputStateDir, date)
		byKey := map[reccache.Key]recognition.Result{}
		for _, e := range bucket {
			key := reccache.Key{RelPath: e.RelPath, Size: e.Size, MTime: e.MTime}
			if r, ok := cache.Get(key); ok {
				byKey[key] = r
			}
		}
		resultsByKey[date] = byKey
	}

	// Phase R5 — Clustering.
	type residualRef struct {
		date, relPath string
		faceIndex     int
	}
	var residuals []cluster.Residual
	var refs []residualRef

	for date, bucket := range curr.Dates {
		for _, e := range bucket {
			key := reccache.Key{RelPath: e.RelPath, Size: e.Size, MTime: e.MTime}
			r, ok := resultsByKey[date][key]
			if !ok {
				continue
			}
			for fi, f := range r.Faces {
				if !f.Residual {
					continue
				}
				residuals = append(residuals, cluster.Residual{
					PhotoIdentity: e.RelPath,
					FaceIndex:     fi,
					Embedding:     f.Embedding,
				})
				refs = append(refs, residualRef{date: date, relPath: e.RelPath, faceIndex: fi})
			}
		}
	}

	var labels []cluster.Label
	if cfg.Cluster.Enabled {
		labels = cluster.Cluster(residuals, cluster.Params{
			Threshold:      cfg.Cluster.Threshold,
			MinClusterSize: cfg.Cluster.MinClusterSize,
			HNSWThreshold:  cfg.HNSW.ClusterThreshold,
		})
	} else {
		labels = make([]cluster.Label, len(residuals))
		for i := range labels {
			labels[i] = cluster.Label{Unlabeled: true}
		}
	}

	labelsByPhoto := map[string][]cluster.Label{}
	for i, ref := range refs {
		labelsByPhoto[ref.date+"\x00"+ref.relPath] = append(labelsByPhoto[ref.date+"\x00"+ref.relPath], labels[i])
	}

	// Phase R6 — Organize.
	var entries []organizer.Entry
	for date, bucket := range curr.Dates {
		for _, e := range bucket {
			key := reccache.Key{RelPath: e.RelPath, Size: e.Size, MTime: e.MTime}
			r, ok := resultsByKey[date][key]
			if !ok {
				continue
			}
			entries = append(entries, organizer.Entry{
				Date:           date,
				RelPath:        e.RelPath,
				AbsPath:        filepath.Join(classroomRoot, e.RelPath),
				Result:         r,
				ResidualLabels: labelsByPhoto[date+"\x00"+e.RelPath],
			})
		}
	}
	if err := org.Organize(entries); err != nil {
		log.Error("orchestrator: organize failed", "error", err)
		return ExitUnrecoverable, data, false
	}

	// Phase R7 — Finalize.
	data.PersonMatchCounts = map[string]int{}
	data.ClusterSizes = map[string]int{}
	for _, e := range entries {
		switch e.Result.Status {
		case recognition.StatusSuccess:
			data.SuccessCount++
		case recognition.StatusNoFace:
			data.NoFaceCount++
		case recognition.StatusError:
			data.ErrorCount++
		}
		for _, name := range e.Result.MatchedNames {
			data.PersonMatchCounts[name]++
		}
	}
	for _, lbl := range labels {
		if lbl.Unlabeled {
			data.UnlabeledCount++
		} else if lbl.Name != "" {
			data.ClusterSizes[lbl.Name]++
		}
	}
	data.FellBackToSerial = fellBackToSerial

	if !cancelled {
		if err := snapshot.Save(outputStateDir, plan.NewSnapshot); err != nil {
			log.Error("orchestrator: persisting snapshot failed", "error", err)
			return ExitUnrecoverable, data, false
		}
	}

	if cancelled {
		return ExitSuccess, data, true
	}
	return ExitSuccess, data, false
}

// dirMissingOrEmpty reports whether root does not exist, or exists but
// contains no supported, non-hidden image file anywhere beneath it
// (recursively — a tree holding only subdirectories, hidden files or
// unsupported files is still "empty" for R0's purposes).
func dirMissingOrEmpty(root string) (bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			if !imgext.IsHidden(e.Name()) && imgext.IsSupported(e.Name()) {
				return false, nil
			}
			continue
		}
		sub, err := dirMissingOrEmpty(filepath.Join(root, e.Name()))
		if err != nil {
			return false, err
		}
		if !sub {
			return false, nil
		}
	}
	return true, nil
}

// computeParameterFingerprint digests the values the ParameterFingerprint
// is defined over: tolerance, minimum face size, the
// backend descriptor, the ReferenceFingerprint, and a matching-policy
// version that bumps only when the matching algorithm itself changes.
func computeParameterFingerprint(cfg *config.Config, referenceFingerprint string) string {
	const matchingPolicyVersion = 1
	h := sha256.New()
	fmt.Fprintf(h, "tolerance=%v;min_face_size=%d;engine=%s;model=%s;ref=%s;policy=%d",
		cfg.Recognition.Tolerance, cfg.Recognition.MinFaceSize,
		cfg.Backend.Engine, cfg.Backend.Model, referenceFingerprint, matchingPolicyVersion)
	return fmt.Sprintf("%x", h.Sum(nil))
}
