package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alegny-health/api/internal/platform/config"
	"github.com/alegny-health/api/internal/repositories"
	"github.com/alegny-health/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders services.OrderService
	Stock  services.StockService
	Views  services.ViewService
	Bills  services.BillService
	System services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option supplies infrastructure that lives outside the repository registry.
type Option func(*options)

type options struct {
	events  services.EventPublisher
	archive services.BillArchive
	logger  func(component string) services.Logger
	clock   func() time.Time
	build   services.BuildInfo
}

// WithEventPublisher publishes order and stock events when the Events feature is enabled.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithBillArchive enables the bill service when the BillArchive feature is enabled.
func WithBillArchive(archive services.BillArchive) Option {
	return func(o *options) {
		o.archive = archive
	}
}

// WithServiceLogger provides a structured logger per service component.
func WithServiceLogger(factory func(component string) services.Logger) Option {
	return func(o *options) {
		o.logger = factory
	}
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore
// repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func (o options) loggerFor(component string) services.Logger {
	if o.logger == nil {
		return nil
	}
	return o.logger(component)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services

	var events services.EventPublisher
	if cfg.Features.Events && o.events != nil {
		events = o.events
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := o.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = o.clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            o.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	viewSvc, err := services.NewViewService(services.ViewServiceDeps{
		Orders: reg.Orders(),
		Views:  reg.OrderViews(),
		Clock:  o.clock,
		Logger: o.loggerFor("views"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build view service: %w", err)
	}
	svc.Views = viewSvc

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Pharmacies: reg.Pharmacies(),
		Drugs:      reg.Drugs(),
		Stock:      reg.Stock(),
		Clock:      o.clock,
		Events:     events,
		Logger:     o.loggerFor("stock"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	if cfg.Features.BillArchive && o.archive != nil {
		billSvc, err := services.NewBillService(services.BillServiceDeps{
			Orders:  reg.Orders(),
			Archive: o.archive,
			Clock:   o.clock,
			Logger:  o.loggerFor("bills"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build bill service: %w", err)
		}
		svc.Bills = billSvc
	}

	// Views and bills stay nil interfaces when disabled so the saga skips those steps.
	deps := services.OrderServiceDeps{
		Patients:   reg.Patients(),
		Pharmacies: reg.Pharmacies(),
		Drugs:      reg.Drugs(),
		Orders:     reg.Orders(),
		Stock:      stockSvc,
		UnitOfWork: reg,
		Clock:      o.clock,
		Events:     events,
		Logger:     o.loggerFor("orders"),
	}
	if cfg.Features.ViewProjection {
		deps.Views = viewSvc
	}
	if svc.Bills != nil {
		deps.Bills = svc.Bills
	}
	orderSvc, err := services.NewOrderService(deps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}
