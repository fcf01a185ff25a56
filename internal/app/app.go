// Package app builds the turnstile object graph and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nfrund/turnstile/internal/config"
	"github.com/nfrund/turnstile/internal/events"
	"github.com/nfrund/turnstile/internal/gate"
	"github.com/nfrund/turnstile/internal/happening"
	"github.com/nfrund/turnstile/internal/metrics"
	"github.com/nfrund/turnstile/internal/pubsub"
	"github.com/nfrund/turnstile/internal/script"
	"github.com/nfrund/turnstile/internal/server"
	"github.com/nfrund/turnstile/internal/subscription"
	"github.com/nfrund/turnstile/internal/topics"
	"github.com/nfrund/turnstile/internal/tracing"
	"github.com/nfrund/turnstile/internal/worker"
)

// App is the wired application
type App struct {
	Config      *config.Config
	Registry    *subscription.Registry
	Gate        *gate.Local
	Bus         *pubsub.WatermillBridge
	Metrics     *metrics.Metrics
	Pool        *worker.Pool
	Dispatcher  *happening.Dispatcher
	Server      *server.Server
	Controllers []*script.Controller

	injector    *do.RootScope
	logger      *slog.Logger
	stopTracing func(context.Context) error
}

// Option configures New
type Option func(*options)

type options struct {
	fs     afero.Fs
	logger *slog.Logger
}

// WithFs reads topics and controllers files from fsys
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithLogger sets the application logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type tracerHandle struct {
	tracer trace.Tracer
	stop   func(context.Context) error
}

// New wires every component from cfg. Topics are loaded from cfg.TopicsFile
// and script controllers from cfg.ControllersFile, when set.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{fs: afero.NewOsFs(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue(i, o.logger)
	do.ProvideValue(i, o.fs)

	do.Provide(i, func(i do.Injector) (*tracerHandle, error) {
		tracer, stop, err := tracing.Setup(ctx, do.MustInvoke[*config.Config](i).Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
		return &tracerHandle{tracer: tracer, stop: stop}, nil
	})
	do.Provide(i, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(), nil
	})
	do.Provide(i, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		return pubsub.NewWatermillBridgeWithTracer(do.MustInvoke[*tracerHandle](i).tracer), nil
	})
	do.Provide(i, func(i do.Injector) (*topics.Loader, error) {
		return topics.NewLoader(do.MustInvoke[afero.Fs](i))
	})
	do.Provide(i, provideRegistry)
	do.Provide(i, provideControllers)
	do.Provide(i, func(i do.Injector) (*gate.Local, error) {
		reg := do.MustInvoke[*subscription.Registry](i)
		return gate.NewLocal(
			gate.WithTopics(reg.Topics()...),
			gate.WithPacing(do.MustInvoke[*config.Config](i).GatePacing),
			gate.WithLogger(do.MustInvoke[*slog.Logger](i)),
		), nil
	})
	do.Provide(i, func(i do.Injector) (gate.Gate, error) {
		return gate.WithTracing(do.MustInvoke[*gate.Local](i), do.MustInvoke[*tracerHandle](i).tracer), nil
	})
	do.Provide(i, func(i do.Injector) ([]worker.Option, error) {
		return []worker.Option{
			worker.WithLogger(do.MustInvoke[*slog.Logger](i)),
			worker.WithTracer(do.MustInvoke[*tracerHandle](i).tracer),
			worker.WithObserver(worker.Observers(
				do.MustInvoke[*metrics.Metrics](i),
				events.NewPublisher(do.MustInvoke[*pubsub.WatermillBridge](i), do.MustInvoke[*slog.Logger](i)),
			)),
		}, nil
	})
	do.Provide(i, func(i do.Injector) (*worker.Pool, error) {
		// controllers subscribe before the pool snapshots the task list
		do.MustInvoke[[]*script.Controller](i)
		return worker.NewPool(
			do.MustInvoke[*subscription.Registry](i),
			do.MustInvoke[gate.Gate](i),
			do.MustInvoke[[]worker.Option](i)...,
		)
	})
	do.Provide(i, func(i do.Injector) (*happening.Dispatcher, error) {
		do.MustInvoke[[]*script.Controller](i)
		return happening.NewDispatcher(
			do.MustInvoke[*subscription.Registry](i),
			do.MustInvoke[*pubsub.WatermillBridge](i),
			do.MustInvoke[gate.Gate](i),
			happening.WithLogger(do.MustInvoke[*slog.Logger](i)),
			happening.WithWorkerOptions(do.MustInvoke[[]worker.Option](i)...),
		)
	})
	do.Provide(i, func(i do.Injector) (*server.Server, error) {
		return server.New(
			do.MustInvoke[*subscription.Registry](i),
			server.WithWorkers(do.MustInvoke[*worker.Pool](i)),
			server.WithMetrics(do.MustInvoke[*metrics.Metrics](i).Registry),
			server.WithPublisher(do.MustInvoke[*pubsub.WatermillBridge](i)),
			server.WithLogger(do.MustInvoke[*slog.Logger](i)),
		), nil
	})

	a := &App{Config: cfg, injector: i, logger: o.logger}
	if err := a.resolve(); err != nil {
		i.Shutdown()
		return nil, err
	}
	return a, nil
}

// resolve builds the services in dependency order so that providers only
// ever see dependencies that already resolved
func (a *App) resolve() (err error) {
	i := a.injector
	th, err := do.Invoke[*tracerHandle](i)
	if err != nil {
		return err
	}
	a.stopTracing = th.stop
	if a.Registry, err = do.Invoke[*subscription.Registry](i); err != nil {
		return err
	}
	if a.Controllers, err = do.Invoke[[]*script.Controller](i); err != nil {
		return err
	}
	if a.Gate, err = do.Invoke[*gate.Local](i); err != nil {
		return err
	}
	if a.Bus, err = do.Invoke[*pubsub.WatermillBridge](i); err != nil {
		return err
	}
	if a.Metrics, err = do.Invoke[*metrics.Metrics](i); err != nil {
		return err
	}
	if a.Pool, err = do.Invoke[*worker.Pool](i); err != nil {
		return err
	}
	if a.Dispatcher, err = do.Invoke[*happening.Dispatcher](i); err != nil {
		return err
	}
	a.Server, err = do.Invoke[*server.Server](i)
	return err
}

func provideRegistry(i do.Injector) (*subscription.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	loader, err := do.Invoke[*topics.Loader](i)
	if err != nil {
		return nil, err
	}
	reg := subscription.NewRegistry(
		subscription.WithLoader(loader),
		subscription.WithLogger(do.MustInvoke[*slog.Logger](i)),
	)
	if cfg.TopicsFile != "" {
		if err := reg.AddTopics(cfg.TopicsFile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func provideControllers(i do.Injector) ([]*script.Controller, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.ControllersFile == "" {
		return nil, nil
	}
	logger := do.MustInvoke[*slog.Logger](i)
	reg := do.MustInvoke[*subscription.Registry](i)

	file, err := script.LoadFile(do.MustInvoke[afero.Fs](i), cfg.ControllersFile)
	if err != nil {
		return nil, err
	}
	controllers := make([]*script.Controller, 0, len(file.Controllers))
	for _, def := range file.Controllers {
		c, err := script.New(def, script.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		subs, err := c.Subscribe(reg)
		if err != nil {
			return nil, err
		}
		logger.Info("Controller subscribed", "controller", c.Name(), "subscriptions", len(subs))
		controllers = append(controllers, c)
	}
	return controllers, nil
}

// Run starts the dispatcher, the worker pool and the status server and
// blocks until ctx ends or one of them fails. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.Dispatcher.Start(ctx); err != nil {
		return err
	}
	// Happening handlers only run while Run blocks, even when the pool has
	// no tasks and no status server is configured
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	g.Go(func() error {
		return a.Pool.Run(ctx)
	})
	if a.Config.StatusAddr != "" {
		g.Go(func() error {
			return a.Server.Start(ctx, a.Config.StatusAddr)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the bus and flushes traces
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.injector.Shutdown()
	return errors.Join(errs...)
}
