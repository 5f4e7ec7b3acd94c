package destination

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
)

// PathFunc maps a suggested filename and expected size to a destination path.
// A relative result is joined with the download directory.
type PathFunc func(suggestedFilename string, expectedTotal int64) string

// Query describes one destination request from the engine
type Query struct {
	Request       domain.Request
	Suggested     string
	ExpectedTotal int64
	Policy        domain.ExistingFilePolicy
	PathFunc      PathFunc
}

// Resolver resolves destinations against the filesystem
type Resolver struct {
	fs     port.FileSystem
	dir    string
	logger *zap.Logger
}

// NewResolver creates a resolver writing into fs.RootDir() by default
func NewResolver(fs port.FileSystem, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fs:     fs,
		dir:    fs.RootDir(),
		logger: logger,
	}
}

// Path returns the destination path for a query without touching the filesystem
func (r *Resolver) Path(q Query) string {
	var path string
	if q.PathFunc != nil {
		path = q.PathFunc(q.Suggested, q.ExpectedTotal)
	}
	if path == "" {
		path = domain.SanitizeFilename(q.Suggested)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}
	return filepath.Clean(path)
}

// Resolve decides the destination for q. For DeleteExistingThenProceed the
// existing file is removed before returning; failures are *domain.DestinationError.
func (r *Resolver) Resolve(q Query) (domain.DestinationDecision, error) {
	path := r.Path(q)

	if err := r.fs.EnsureDir(path); err != nil {
		return domain.DestinationDecision{}, domain.NewDestinationError("mkdir", path, err)
	}

	size, exists, err := r.fs.FileSize(path)
	if err != nil {
		return domain.DestinationDecision{}, domain.NewDestinationError("stat", path, err)
	}

	decision := Decide(Input{
		Path:          path,
		Policy:        q.Policy,
		Exists:        exists,
		ExistingSize:  size,
		ExpectedTotal: q.ExpectedTotal,
		HasRange:      q.Request.HasRange(),
	})

	if decision.Kind == domain.DecisionDeleteExistingThenProceed {
		if err := r.fs.DeleteFile(path); err != nil {
			return domain.DestinationDecision{}, domain.NewDestinationError("delete", path,
				errors.Join(domain.ErrDestinationDelete, err))
		}
	}

	r.logger.Debug("destination decided",
		zap.String("request_id", q.Request.ID),
		zap.String("suggested", q.Suggested),
		zap.Stringer("policy", q.Policy),
		zap.Bool("exists", exists),
		zap.Int64("existing_size", size),
		zap.Int64("expected_total", q.ExpectedTotal),
		zap.Stringer("decision", decision),
	)
	return decision, nil
}
