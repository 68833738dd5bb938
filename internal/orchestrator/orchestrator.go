// Package orchestrator coordinates scan and fix runs. It resolves agents
// through the registry, fans scan work out over a bounded worker pool,
// aggregates per-agent results into one document, and drives output agents
// over grouped files with backups and atomic writes. Agent failures are
// recorded in the documents it produces; only input validation errors reach
// callers.
package orchestrator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/discovery"
	"github.com/Eng-Elias/codetective/internal/knowledge"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/report"
)

// Input validation errors. These are the only errors Scan and Fix return;
// everything that goes wrong after inputs are accepted is recorded inside the
// result documents instead.
var (
	// ErrNoPaths means the scan was invoked with an empty or unusable path set.
	ErrNoPaths = errors.New("no scan paths provided")

	// ErrNoAgents means the configuration selects no scan agents.
	ErrNoAgents = errors.New("no scan agents configured")

	// ErrUnknownAgent re-exports the registry's unknown-agent error.
	ErrUnknownAgent = agent.ErrUnknownAgent

	// ErrNotOutputAgent re-exports the registry's wrong-role error.
	ErrNotOutputAgent = agent.ErrNotOutputAgent

	// ErrMalformedResult re-exports the report package's document error.
	ErrMalformedResult = report.ErrMalformed
)

// IsInvalidInput reports whether err belongs to the input validation class.
// Transports use this to separate caller mistakes from server faults.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrNoPaths) ||
		errors.Is(err, ErrNoAgents) ||
		errors.Is(err, ErrUnknownAgent) ||
		errors.Is(err, ErrNotOutputAgent) ||
		errors.Is(err, ErrMalformedResult) ||
		errors.Is(err, discovery.ErrNoFiles)
}

// Service is the orchestration entry point both the CLI and the HTTP API
// call. Implementations are safe for concurrent use.
type Service interface {
	// Scan discovers files under paths and runs the configured scan agents
	// over them, producing one aggregated result document. Individual agent
	// failures are recorded in the document, never returned.
	Scan(ctx context.Context, paths []string, cfg *config.Config) (*models.ScanResult, error)

	// Fix applies the named output agent to the detected issues in result,
	// mutating issue statuses in place and reporting what happened per
	// issue. Per-issue failures are recorded, never returned.
	Fix(ctx context.Context, result *models.ScanResult, agentName string, cfg *config.Config) (*models.FixResult, error)
}

type service struct {
	registry  *agent.Registry
	knowledge *knowledge.Store
	log       *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

var _ Service = (*service)(nil)

// New creates the orchestration service. kb may be nil when the fix-history
// knowledge base is disabled; log may be nil.
func New(registry *agent.Registry, kb *knowledge.Store, log *logging.Logger) (Service, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &service{
		registry:  registry,
		knowledge: kb,
		log:       log.Named("orchestrator"),
		metrics:   NewMetrics(),
		tracer:    otel.Tracer("codetective/orchestrator"),
	}, nil
}
