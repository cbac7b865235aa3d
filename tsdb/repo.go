// Package tsdb implements the top-level repository (C7): the object
// that owns the cache arena, table registry, file directory and
// commit pipeline, and exposes the lifecycle and data-path operations
// callers actually invoke.
package tsdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tsdbcore/engine/internal/arena"
	"github.com/tsdbcore/engine/internal/commit"
	"github.com/tsdbcore/engine/internal/filedir"
	"github.com/tsdbcore/engine/internal/meta"
	"github.com/tsdbcore/engine/internal/schema"
)

// State is one of the three repository lifecycle states from spec.md §3.
type State int32

const (
	StateConfiguring State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "CONFIGURING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Status is a snapshot of the repository's operational state, the
// in-process counterpart of getStatus.
type Status struct {
	State          State
	Config         Config
	NumOfFGroups   int
	CommitInFlight bool
}

// Repository is the top-level object owning C1-C6.
type Repository struct {
	mu      sync.Mutex
	rootDir string
	dataDir string
	cfg     Config
	state   State

	arena     *arena.Arena
	registry  *meta.Registry
	directory *filedir.Directory
	pipeline  *commit.Pipeline

	commitInFlight bool
	wg             sync.WaitGroup
	// pipelineRun defaults to pipeline.Run; tests substitute a
	// controllable stand-in to deterministically exercise the
	// commit-in-flight window without racing a real background task.
	pipelineRun func() error

	logger *zap.Logger

	insertRowsTotal prometheus.Counter
	insertErrors    prometheus.Counter
	commitsRejected prometheus.Counter
}

// New creates a Repository in the CONFIGURING state, rooted at rootDir.
// Call Configure then Create (new repository) or Open (existing one)
// to reach ACTIVE.
func New(rootDir string) *Repository {
	return &Repository{
		rootDir: rootDir,
		state:   StateConfiguring,
		logger:  zap.NewNop(),
		insertRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdbcore", Subsystem: "repo", Name: "insert_rows_total",
			Help: "Total number of rows accepted by Insert.",
		}),
		insertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdbcore", Subsystem: "repo", Name: "insert_errors_total",
			Help: "Total number of Insert calls that returned an error.",
		}),
		commitsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdbcore", Subsystem: "repo", Name: "commits_rejected_total",
			Help: "Total number of TriggerCommit calls rejected with COMMIT_IN_PROGRESS.",
		}),
	}
}

// WithLogger attaches a structured logger, propagated to the commit
// pipeline once it is built by Create/Open.
func (r *Repository) WithLogger(l *zap.Logger) *Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
	if r.pipeline != nil {
		r.pipeline.WithLogger(l)
	}
	return r
}

// Configure binds cfg to the repository while it is still CONFIGURING.
func (r *Repository) Configure(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateConfiguring {
		return fmt.Errorf("tsdb: Configure called outside CONFIGURING state (state=%s)", r.state)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

// Create lays down a brand new repository under rootDir using the
// previously Configure'd config, and transitions CONFIGURING -> ACTIVE.
func (r *Repository) Create() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateConfiguring {
		return fmt.Errorf("tsdb: Create called outside CONFIGURING state (state=%s)", r.state)
	}
	if err := r.cfg.Validate(); err != nil {
		return err
	}

	r.dataDir = filepath.Join(r.rootDir, "data")
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return newIOError(err)
	}
	if err := SaveConfig(r.rootDir, r.cfg); err != nil {
		return err
	}

	r.buildComponentsLocked()
	r.state = StateActive
	return nil
}

// Open restores a repository previously created under rootDir,
// reading back CONFIG and rediscovering the on-disk file groups, and
// transitions CONFIGURING -> ACTIVE. Table metadata is the meta
// collaborator's responsibility (spec.md §6: META is delegated), so
// callers must re-issue CreateTable for each table after Open.
func (r *Repository) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateConfiguring {
		return fmt.Errorf("tsdb: Open called outside CONFIGURING state (state=%s)", r.state)
	}

	cfg, err := LoadConfig(r.rootDir)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.dataDir = filepath.Join(r.rootDir, "data")

	r.buildComponentsLocked()

	fids, err := discoverFids(r.dataDir)
	if err != nil {
		return newIOError(err)
	}
	r.directory.Discover(fids)

	r.state = StateActive
	return nil
}

func (r *Repository) buildComponentsLocked() {
	r.arena = arena.New(r.cfg.MaxCacheSize)
	r.registry = meta.New(r.cfg.MaxTables, r.arena)
	r.directory = filedir.New(r.dataDir, r.cfg.MaxTables, 0)
	r.pipeline = commit.New(r.dataDir, commit.Config{
		Precision:           r.cfg.Precision,
		DaysPerFile:         r.cfg.DaysPerFile,
		MinRowsPerFileBlock: r.cfg.MinRowsPerFileBlock,
		MaxRowsPerFileBlock: r.cfg.MaxRowsPerFileBlock,
		MaxTables:           r.cfg.MaxTables,
	}, r.registry, r.directory).WithLogger(r.logger)
	r.pipelineRun = r.pipeline.Run
}

// discoverFids scans dataDir for f<fid>.head files, matching
// tsdbOpen's directory scan on restart.
func discoverFids(dataDir string) ([]int64, error) {
	entries, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var fids []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "f") || !strings.HasSuffix(name, ".head") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "f"), ".head")
		fid, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		fids = append(fids, fid)
	}
	return fids, nil
}

// Close transitions ACTIVE -> CLOSED, keeping all files on disk. It
// waits for any in-flight commit to drain before returning, per the
// concurrency model's "a close while committing must wait".
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = StateClosed
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Drop transitions ACTIVE -> CLOSED and removes every file under rootDir.
func (r *Repository) Drop() error {
	if err := r.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(r.rootDir); err != nil {
		return newIOError(err)
	}
	return nil
}

// CreateTable installs a new table in the registry.
func (r *Repository) CreateTable(tid int32, uid uint64, typ meta.TableType, sch schema.Schema, tags map[string]string) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	if err := r.registry.Create(tid, uid, typ, sch, tags); err != nil {
		return translateMetaErr(err)
	}
	return nil
}

// DropTable removes a table from the registry.
func (r *Repository) DropTable(tid int32) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	if err := r.registry.Drop(tid); err != nil {
		return translateMetaErr(err)
	}
	return nil
}

// AlterTable rebinds a table's schema.
func (r *Repository) AlterTable(tid int32, sch schema.Schema) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	if err := r.registry.Alter(tid, sch); err != nil {
		return translateMetaErr(err)
	}
	return nil
}

// GetMeta returns the table handle registered at tid.
func (r *Repository) GetMeta(tid int32) (*meta.Handle, error) {
	if err := r.requireActive(); err != nil {
		return nil, err
	}
	h, ok := r.registry.Get(tid)
	if !ok {
		return nil, newError(TableUnknown, meta.ErrTableUnknown)
	}
	return h, nil
}

// GetStatus reports a snapshot of the repository's lifecycle state.
func (r *Repository) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	if r.directory != nil {
		n = r.directory.Len()
	}
	return Status{
		State:          r.state,
		Config:         r.cfg,
		NumOfFGroups:   n,
		CommitInFlight: r.commitInFlight,
	}
}

// Insert decodes a submit message and routes each row to its table's
// active memtable. Per spec.md §7, insert is not transactional across
// rows: if a later row in the message fails, earlier rows in the same
// message remain inserted.
func (r *Repository) Insert(msg []byte) error {
	if err := r.requireActive(); err != nil {
		return err
	}

	blocks, err := decodeSubmitMessage(msg)
	if err != nil {
		r.insertErrors.Inc()
		return err
	}

	for _, b := range blocks {
		h, err := r.registry.ValidateForInsert(b.TID, b.UID)
		if err != nil {
			r.insertErrors.Inc()
			return translateMetaErr(err)
		}

		rows, err := decodeRows(b.Rows)
		if err != nil {
			r.insertErrors.Inc()
			return err
		}

		for _, row := range rows {
			if err := h.Insert(row.Timestamp, row.Payload); err != nil {
				r.insertErrors.Inc()
				if errors.Is(err, arena.ErrCacheFull) {
					return newError(CacheFull, err)
				}
				return newIOError(err)
			}
			r.insertRowsTotal.Inc()
		}
	}
	return nil
}

// TriggerCommit freezes every table's active memtable and the cache
// arena under the repository mutex, then launches the commit pipeline
// as a background task. It returns immediately; the frozen generation
// is released once the pipeline completes.
func (r *Repository) TriggerCommit() error {
	r.mu.Lock()

	if r.state == StateClosed {
		r.mu.Unlock()
		return ErrRepoClosed
	}
	if r.state != StateActive {
		r.mu.Unlock()
		return fmt.Errorf("tsdb: TriggerCommit called outside ACTIVE state (state=%s)", r.state)
	}
	if r.commitInFlight {
		r.commitsRejected.Inc()
		r.mu.Unlock()
		return ErrCommitInProgress
	}

	r.registry.FreezeAll()
	if !r.arena.Freeze() {
		// A frozen generation is already awaiting reclaim; the single
		// in-flight commit invariant was violated elsewhere.
		r.mu.Unlock()
		return ErrCommitInProgress
	}

	r.commitInFlight = true
	runner := r.pipelineRun
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		err := runner()

		r.mu.Lock()
		r.arena.Reclaim()
		r.commitInFlight = false
		r.mu.Unlock()

		if err != nil {
			r.logger.Error("commit pipeline run failed", zap.Error(err))
		}
	}()

	return nil
}

func (r *Repository) requireActive() error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state == StateClosed {
		return ErrRepoClosed
	}
	if state != StateActive {
		return fmt.Errorf("tsdb: operation requires ACTIVE state (state=%s)", state)
	}
	return nil
}

func translateMetaErr(err error) error {
	switch {
	case errors.Is(err, meta.ErrOutOfBounds):
		return newError(OutOfBounds, err)
	case errors.Is(err, meta.ErrTableUnknown):
		return newError(TableUnknown, err)
	case errors.Is(err, meta.ErrUIDMismatch):
		return newError(TableUIDMismatch, err)
	case errors.Is(err, meta.ErrTableExists):
		return newError(ConfigInvalid, err)
	default:
		return newIOError(err)
	}
}

// PrometheusCollectors aggregates this repository's own counters with
// every owned component's collectors, so a caller only needs to
// register one slice with its Prometheus registry.
func (r *Repository) PrometheusCollectors() []prometheus.Collector {
	cs := []prometheus.Collector{r.insertRowsTotal, r.insertErrors, r.commitsRejected}
	if r.arena != nil {
		cs = append(cs, r.arena.PrometheusCollectors()...)
	}
	if r.pipeline != nil {
		cs = append(cs, r.pipeline.PrometheusCollectors()...)
	}
	return cs
}
