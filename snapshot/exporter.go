package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ka1ii/developer-challenge/native/escrow"
)

// Source lists the agreements to snapshot. *core.Node satisfies it.
type Source interface {
	EscrowList() ([]*escrow.Agreement, error)
}

type Config struct {
	Source Source
	Dir    string
	Now    func() time.Time
	Logger *slog.Logger
}

// Result summarises one snapshot.
type Result struct {
	Path       string
	Agreements int
	Escrowed   *big.Int
	TakenAt    time.Time
}

// Exporter writes point-in-time parquet snapshots of every agreement.
type Exporter struct {
	source Source
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.Source == nil {
		return nil, errors.New("snapshot: source is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("snapshot: output directory is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Exporter{source: cfg.Source, dir: cfg.Dir, now: cfg.Now, logger: cfg.Logger}, nil
}

// Export writes a new snapshot file. The file appears under its final name
// only once it is complete.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agreements, err := e.source.EscrowList()
	if err != nil {
		return nil, fmt.Errorf("snapshot: list agreements: %w", err)
	}
	records := make([]Record, len(agreements))
	escrowed := new(big.Int)
	for i, agreement := range agreements {
		records[i] = FromAgreement(agreement)
		if agreement.Amount != nil {
			escrowed.Add(escrowed, agreement.Amount)
		}
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	takenAt := e.now().UTC()
	name := fmt.Sprintf("agreements-%s.parquet", takenAt.Format("20060102T150405Z"))
	path := filepath.Join(e.dir, name)
	tmp := path + ".tmp"
	if err := WriteFile(tmp, records); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("snapshot: finalise: %w", err)
	}
	e.logger.Info("snapshot written",
		slog.String("path", path),
		slog.Int("agreements", len(records)),
		slog.String("escrowed", escrowed.String()))
	return &Result{Path: path, Agreements: len(records), Escrowed: escrowed, TakenAt: takenAt}, nil
}

// Scheduler runs the exporter on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	exporter *Exporter
	logger   *slog.Logger
}

// NewScheduler accepts standard five-field cron specs and descriptors such
// as "@hourly" or "@every 30m".
func NewScheduler(exporter *Exporter, schedule string) (*Scheduler, error) {
	if exporter == nil {
		return nil, errors.New("snapshot: exporter is required")
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		exporter: exporter,
		logger:   exporter.logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("snapshot: schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	if _, err := s.exporter.Export(context.Background()); err != nil {
		s.logger.Error("scheduled snapshot failed", slog.String("error", err.Error()))
	}
}

// Start runs scheduled exports until ctx is cancelled, then waits for an
// in-flight export to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
