// Package environment builds the process-wide dependencies of the tracker
// from its settings and releases them on shutdown.
package environment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/cache"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/storage"
	"github.com/jpillora/backoff"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

const metricsExportInterval = 15 * time.Second

// Environment holds the connections shared by every component. It is
// built once per process and passed explicitly.
type Environment struct {
	settings *tracker.Settings
	store    db.GraphStore
	cache    cache.StatusCache
	objects  storage.ObjectStore

	mu      sync.RWMutex
	closers map[string]func(context.Context) error
}

// New validates the settings and connects every backing service they name.
// On error, whatever was already opened is closed.
func New(ctx context.Context, settings *tracker.Settings) (*Environment, error) {
	if settings == nil {
		return nil, errors.New("settings must not be nil")
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating settings")
	}

	e := &Environment{
		settings: settings,
		closers:  map[string]func(context.Context) error{},
	}

	catcher := grip.NewBasicCatcher()
	catcher.Wrap(e.initStore(ctx), "initializing graph store")
	if !catcher.HasErrors() {
		catcher.Wrap(e.initCache(ctx), "initializing status cache")
	}
	if !catcher.HasErrors() {
		catcher.Wrap(e.initObjectStore(ctx), "initializing object store")
	}
	if !catcher.HasErrors() {
		catcher.Wrap(e.initOtel(ctx), "initializing telemetry")
	}
	if catcher.HasErrors() {
		catcher.Wrap(e.Close(ctx), "closing partially built environment")
		return nil, catcher.Resolve()
	}

	grip.Info(message.Fields{
		"message":  "environment ready",
		"database": settings.Database.Type,
		"cache":    settings.Cache.Type,
		"bucket":   settings.Bucket.Type,
		"tracer":   settings.Tracer.Enabled,
		"build":    tracker.BuildRevision,
	})

	return e, nil
}

func (e *Environment) Settings() *tracker.Settings { return e.settings }

func (e *Environment) Store() db.GraphStore { return e.store }

func (e *Environment) Cache() cache.StatusCache { return e.cache }

func (e *Environment) ObjectStore() storage.ObjectStore { return e.objects }

func (e *Environment) initStore(ctx context.Context) error {
	conf := e.settings.Database
	if conf.Type == tracker.StoreTypeMemory {
		e.store = db.NewMemoryGraphStore()
		return nil
	}

	var store *db.MongoGraphStore
	err := retry(ctx, "database", conf.ConnectAttempts, func() error {
		var err error
		store, err = db.NewMongoGraphStore(ctx, db.MongoOptions{
			URL:      conf.Url,
			DB:       conf.DB,
			Username: conf.Username,
			Password: conf.Password,
		})
		if err != nil {
			return err
		}
		if err = store.Ping(ctx); err != nil {
			grip.Warning(message.WrapError(store.Close(ctx), message.Fields{
				"message": "problem closing unreachable database client",
			}))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.store = store
	e.RegisterCloser("graph-store", store.Close)
	return nil
}

func (e *Environment) initCache(ctx context.Context) error {
	conf := e.settings.Cache
	if conf.Type == tracker.CacheTypeMemory {
		e.cache = cache.NewMemoryCache(conf.KeyPrefix, conf.TTL())
		return nil
	}

	redisCache, err := cache.NewRedisCache(cache.RedisOptions{
		URL:    conf.URL,
		Prefix: conf.KeyPrefix,
		TTL:    conf.TTL(),
	})
	if err != nil {
		return err
	}
	if err = retry(ctx, "cache", e.settings.Database.ConnectAttempts, func() error { return redisCache.Ping(ctx) }); err != nil {
		grip.Warning(message.WrapError(redisCache.Close(), message.Fields{
			"message": "problem closing unreachable cache client",
		}))
		return err
	}

	e.cache = redisCache
	e.RegisterCloser("status-cache", func(context.Context) error { return redisCache.Close() })
	return nil
}

func (e *Environment) initObjectStore(ctx context.Context) error {
	conf := e.settings.Bucket
	if conf.Type == tracker.BucketTypeMock {
		baseURL := conf.Endpoint
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:9000/%s", conf.Name)
		}
		e.objects = storage.NewMockStore(baseURL, conf.URLExpiration())
		return nil
	}

	store, err := storage.NewS3Store(ctx, storage.S3Options{
		Bucket:     conf.Name,
		Region:     conf.Region,
		Endpoint:   conf.Endpoint,
		PathStyle:  conf.PathStyle,
		AccessKey:  conf.AccessKey,
		SecretKey:  conf.SecretKey,
		Expiration: conf.URLExpiration(),
	})
	if err != nil {
		return err
	}
	e.objects = store
	return nil
}

func (e *Environment) initOtel(ctx context.Context) error {
	conf := e.settings.Tracer
	if !conf.Enabled {
		return nil
	}

	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(tracker.ServiceName))

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(conf.CollectorEndpoint)}
	if conf.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(traceOpts...))
	if err != nil {
		return errors.Wrap(err, "initializing otel exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		grip.Error(errors.Wrap(err, "otel error"))
	}))

	e.RegisterCloser("tracer-provider", func(ctx context.Context) error {
		catcher := grip.NewBasicCatcher()
		catcher.Wrap(tp.Shutdown(ctx), "trace provider shutdown")
		catcher.Wrap(traceExporter.Shutdown(ctx), "trace exporter shutdown")
		return catcher.Resolve()
	})

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(conf.CollectorEndpoint)}
	if conf.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricsExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return errors.Wrap(err, "making otel metrics exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricsExporter,
			sdkmetric.WithInterval(metricsExportInterval),
			sdkmetric.WithTimeout(2*metricsExportInterval),
		)),
	)
	otel.SetMeterProvider(mp)

	e.RegisterCloser("meter-provider", func(ctx context.Context) error {
		return errors.Wrap(mp.Shutdown(ctx), "meter provider shutdown")
	})

	return nil
}

// RegisterCloser adds a function to be called by Close. Names must be
// unique.
func (e *Environment) RegisterCloser(name string, closer func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.closers[name]; ok {
		grip.Critical(message.Fields{
			"closer":  name,
			"message": "duplicate closer registered",
			"cause":   "programmer error",
		})
	}
	e.closers[name] = closer
}

// Close calls every registered closer concurrently.
func (e *Environment) Close(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	deadline, _ := ctx.Deadline()
	catcher := grip.NewBasicCatcher()
	wg := &sync.WaitGroup{}
	for n, closer := range e.closers {
		if closer == nil {
			continue
		}

		wg.Add(1)
		go func(name string, close func(context.Context) error) {
			defer wg.Done()
			grip.Info(message.Fields{
				"message":  "calling closer",
				"closer":   name,
				"deadline": deadline,
			})
			catcher.Wrapf(close(ctx), "closing %s", name)
		}(n, closer)
	}

	wg.Wait()
	return catcher.Resolve()
}

// retry calls op until it succeeds, attempts run out or the context ends.
func retry(ctx context.Context, name string, attempts int, op func() error) error {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}

		wait := b.Duration()
		grip.Warning(message.WrapError(err, message.Fields{
			"message":   "could not reach backing service, retrying",
			"service":   name,
			"attempt":   i,
			"max":       attempts,
			"wait_secs": wait.Seconds(),
		}))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "waiting to reach %s", name)
		case <-timer.C:
		}
	}

	return errors.Wrapf(err, "reaching %s after %d attempts", name, attempts)
}
