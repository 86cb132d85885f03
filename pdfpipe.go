package pdfpipe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/pdfpipe/internal/config"
	"github.com/loykin/pdfpipe/internal/events"
	"github.com/loykin/pdfpipe/internal/history"
	"github.com/loykin/pdfpipe/internal/history/factory"
	"github.com/loykin/pdfpipe/internal/logger"
	"github.com/loykin/pdfpipe/internal/metrics"
	"github.com/loykin/pdfpipe/internal/pipeline"
	"github.com/loykin/pdfpipe/internal/proc"
	iapi "github.com/loykin/pdfpipe/internal/server"
	"github.com/loykin/pdfpipe/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = proc.Spec

type Record = proc.Record

type State = proc.State

type Stage = pipeline.Stage

type StageKind = pipeline.StageKind

const (
	StageCustom      = pipeline.StageCustom
	StageSegment     = pipeline.StageSegment
	StageClean       = pipeline.StageClean
	StagePostProcess = pipeline.StagePostProcess
	StageFormat      = pipeline.StageFormat
	StageConvert     = pipeline.StageConvert
)

type EntityStatus = pipeline.EntityStatus

type Attempt = pipeline.Attempt

type SupervisorConfig = supervisor.Config

type TrackerConfig = pipeline.TrackerConfig

type HistorySink = history.Sink

type LogConfig = logger.Config

type Bus = events.Bus

// Event aliases so embedders can subscribe without importing internals.

type ProcessQueuedEvent = events.ProcessQueuedEvent

type ProcessStartedEvent = events.ProcessStartedEvent

type ProcessOutputEvent = events.ProcessOutputEvent

type ProcessErrorEvent = events.ProcessErrorEvent

type ProcessProgressEvent = events.ProcessProgressEvent

type ProcessFinishedEvent = events.ProcessFinishedEvent

type ProcessCancelledEvent = events.ProcessCancelledEvent

type QueueEmptyEvent = events.QueueEmptyEvent

type QueueStatusEvent = events.QueueStatusEvent

type SupervisorErrorEvent = events.SupervisorErrorEvent

type StageAdvancedEvent = events.StageAdvancedEvent

type EntityFailedEvent = events.EntityFailedEvent

type EntityCompletedEvent = events.EntityCompletedEvent

// Orchestrator bundles the event bus, the process supervisor and the
// pipeline tracker into one embeddable unit.
type Orchestrator struct {
	bus     *events.Bus
	sup     *supervisor.Supervisor
	tracker *pipeline.Tracker
	sinks   []history.Sink
}

// Options configures New. Zero values fall back to defaults (single
// concurrent process, single active entity, built-in five-stage pipeline).
type Options struct {
	Supervisor     supervisor.Config
	Stages         []pipeline.Stage
	MaxActive      int
	ValidateEntity bool
	// HistoryDSN optionally enables persisted stage history. Supported
	// schemes: sqlite://, postgres://, clickhouse://, opensearch://.
	HistoryDSN string
	// ProcessLog mirrors process stdout/stderr to rotating files.
	ProcessLog logger.Config
}

// New assembles an Orchestrator. Close must be called to release the
// supervisor goroutine and any history sink connections.
func New(opts Options) (*Orchestrator, error) {
	bus := events.New()
	var sinks []history.Sink
	if opts.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(opts.HistoryDSN)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	supCfg := opts.Supervisor
	if !supCfg.ProcessLog.Enabled() {
		supCfg.ProcessLog = opts.ProcessLog
	}
	sup := supervisor.New(supCfg, bus, sinks...)
	stages := opts.Stages
	if len(stages) == 0 {
		stages = pipeline.DefaultStages()
	}
	tracker, err := pipeline.NewTracker(pipeline.TrackerConfig{
		Stages:         stages,
		MaxActive:      opts.MaxActive,
		ValidateEntity: opts.ValidateEntity,
	}, sup, bus, sinks...)
	if err != nil {
		sup.Close()
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}
	return &Orchestrator{bus: bus, sup: sup, tracker: tracker, sinks: sinks}, nil
}

// Bus returns the event bus; callers subscribe with events.Subscribe.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Supervisor command surface.

func (o *Orchestrator) Enqueue(command string, args []string, workDir, id string) string {
	return o.sup.Enqueue(command, args, workDir, id)
}
func (o *Orchestrator) EnqueueSpec(s Spec) string { return o.sup.EnqueueSpec(s) }
func (o *Orchestrator) StartImmediately(id, command string, args []string, workDir string) bool {
	return o.sup.StartImmediately(id, command, args, workDir)
}
func (o *Orchestrator) Cancel(id string) bool              { return o.sup.Cancel(id) }
func (o *Orchestrator) StopAll()                           { o.sup.StopAll() }
func (o *Orchestrator) Status(id string) (Record, bool)    { return o.sup.Status(id) }
func (o *Orchestrator) Records() []Record                  { return o.sup.Records() }
func (o *Orchestrator) QueueStatus() (queued, running int) { return o.sup.QueueStatus() }

// Tracker command surface.

func (o *Orchestrator) Submit(entity string) bool       { return o.tracker.Submit(entity) }
func (o *Orchestrator) Retry(entity string) bool        { return o.tracker.Retry(entity) }
func (o *Orchestrator) CancelEntity(entity string) bool { return o.tracker.CancelEntity(entity) }
func (o *Orchestrator) EntityStatus(entity string) EntityStatus {
	return o.tracker.Status(entity)
}
func (o *Orchestrator) Failed() []string   { return o.tracker.Failed() }
func (o *Orchestrator) History() []Attempt { return o.tracker.History() }
func (o *Orchestrator) Stages() []Stage    { return o.tracker.Stages() }

// Close stops all processes, releases the supervisor and closes sinks.
func (o *Orchestrator) Close() {
	o.tracker.Close()
	o.sup.Close()
	for _, s := range o.sinks {
		_ = s.Close()
	}
}

func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// SetupLogging installs the colored slog handler at the given level.
func SetupLogging(level string) { logger.Setup(level) }

// NewHTTPServer starts an HTTP server exposing the internal API using the
// given orchestrator.
func NewHTTPServer(addr, basePath string, o *Orchestrator) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, o.sup, o.tracker)
}

// APIHandler returns the HTTP handler so it can be mounted in an existing mux.
func APIHandler(basePath string, o *Orchestrator) http.Handler {
	return iapi.NewRouter(o.sup, o.tracker, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it runs
// the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
