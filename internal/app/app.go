// Package app wires configuration to the collegescvis components: the build
// pipeline, the query server, snapshot publishing and chart export.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	httpapi "github.com/sacline/collegescvis/internal/api/http"
	"github.com/sacline/collegescvis/internal/chart"
	"github.com/sacline/collegescvis/internal/config"
	"github.com/sacline/collegescvis/internal/publish"
	"github.com/sacline/collegescvis/internal/query"
	"github.com/sacline/collegescvis/internal/server"
	"github.com/sacline/collegescvis/internal/storage"
)

// App runs one configured mode.
type App struct {
	cfg *config.Config

	// newStorage is replaced in tests
	newStorage func(ctx context.Context) (storage.ObjectStorage, error)
}

// New resolves and validates cfg and creates its directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	a := &App{cfg: cfg}
	a.newStorage = a.openStorage
	return a, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run executes the configured mode. Fetch mode retrieves the latest snapshot.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.Mode {
	case config.ModeServe:
		return a.Serve(ctx)
	case config.ModePublish:
		_, err := a.Publish(ctx)
		return err
	case config.ModeFetch:
		_, err := a.Fetch(ctx, "")
		return err
	case config.ModePlot:
		return a.Plot(ctx)
	default:
		_, err := NewPipeline(a.cfg).Run(ctx)
		return err
	}
}

func (a *App) openReader() (*query.Reader, error) {
	return query.Open(a.cfg.Data.DBPath, query.Options{NameColumn: a.cfg.Data.NameColumn})
}

// Handler builds the query API over an open reader, behind the shutdown
// manager's request tracking.
func Handler(r *query.Reader, sm *server.ShutdownManager) http.Handler {
	return sm.Middleware(httpapi.NewHandler(r).Routes())
}

// Serve runs the query API until SIGINT, SIGTERM or ctx cancellation.
func (a *App) Serve(ctx context.Context) error {
	r, err := a.openReader()
	if err != nil {
		return err
	}

	sm := server.NewShutdownManager(a.cfg.HTTP.ShutdownTimeout)
	sm.RegisterCloser(r)

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      Handler(r, sm),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- sm.Serve(srv) }()
	log.Printf("app: query API listening on %s (database %s)", a.cfg.HTTP.Addr, a.cfg.Data.DBPath)

	sigErr := make(chan error, 1)
	go func() { sigErr <- sm.ListenForSignals(ctx) }()

	select {
	case err := <-errCh:
		// listener failed before any shutdown request
		sm.Shutdown("server error")
		return err
	case err := <-sigErr:
		if serveErr := <-errCh; serveErr != nil {
			return serveErr
		}
		return err
	}
}

func (a *App) openStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Storage.Type {
	case "local":
		return storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		log.Printf("app: S3 storage bucket=%s region=%s endpoint=%s",
			a.cfg.Storage.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
}

func (a *App) publisher(ctx context.Context) (*publish.Publisher, error) {
	store, err := a.newStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return publish.New(store, a.cfg.Storage.Prefix), nil
}

// Publish uploads a snapshot of the database and prunes old ones when
// storage.keep is set.
func (a *App) Publish(ctx context.Context) (publish.Snapshot, error) {
	p, err := a.publisher(ctx)
	if err != nil {
		return publish.Snapshot{}, err
	}
	snap, err := p.Publish(ctx, a.cfg.Data.DBPath)
	if err != nil {
		return publish.Snapshot{}, err
	}
	if a.cfg.Storage.Keep > 0 {
		if _, err := p.Prune(ctx, a.cfg.Storage.Keep); err != nil {
			log.Printf("[WARN] app: snapshot pruning failed: %v", err)
		}
	}
	return snap, nil
}

// Fetch downloads objectPath, or the latest snapshot when it is empty, to the
// configured database path and returns the object fetched.
func (a *App) Fetch(ctx context.Context, objectPath string) (string, error) {
	p, err := a.publisher(ctx)
	if err != nil {
		return "", err
	}
	if objectPath == "" {
		if objectPath, err = p.Latest(ctx); err != nil {
			return "", err
		}
	}
	if err := p.Fetch(ctx, objectPath, a.cfg.Data.DBPath); err != nil {
		return "", err
	}
	log.Printf("app: fetched %s to %s", objectPath, a.cfg.Data.DBPath)
	return objectPath, nil
}

// Plot exports the configured metric for the configured colleges as a PNG.
func (a *App) Plot(ctx context.Context) error {
	r, err := a.openReader()
	if err != nil {
		return err
	}
	defer r.Close()

	start, end := a.cfg.Plot.Start, a.cfg.Plot.End
	if start == 0 || end == 0 {
		years, err := r.YearTables(ctx)
		if err != nil {
			return err
		}
		if len(years) == 0 {
			return fmt.Errorf("app: database %s has no year tables", a.cfg.Data.DBPath)
		}
		if start == 0 {
			start = years[0]
		}
		if end == 0 {
			end = years[len(years)-1]
		}
	}

	series := make([]query.Series, 0, len(a.cfg.Plot.Colleges))
	for _, college := range a.cfg.Plot.Colleges {
		s, err := r.Series(ctx, query.SeriesRequest{
			College:   college,
			Metric:    a.cfg.Plot.Metric,
			StartYear: start,
			EndYear:   end,
		})
		if err != nil {
			return err
		}
		series = append(series, s)
	}

	opts := chart.DefaultOptions()
	opts.Title = fmt.Sprintf("%s, %d-%d", a.cfg.Plot.Metric, start, end)
	if err := chart.RenderPNG(a.cfg.Plot.Output, series, opts); err != nil {
		return err
	}
	log.Printf("app: wrote chart of %d series to %s", len(series), a.cfg.Plot.Output)
	return nil
}
