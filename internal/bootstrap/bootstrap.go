// Package bootstrap assembles the store, identity platform, notifier and
// tenancy service from config, and runs the HTTP servers the commands share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"idsimplify/internal/httpx"
	"idsimplify/internal/tenancy"
	"idsimplify/pkg/config"
	"idsimplify/pkg/db"
	"idsimplify/pkg/directory"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/middleware"
	"idsimplify/pkg/notify"
	"idsimplify/pkg/openapi"
	"idsimplify/pkg/resilience"
	"idsimplify/pkg/secrets"
	"idsimplify/pkg/store"
	"idsimplify/pkg/validate"
)

// Version is reported in the OpenAPI document.
var Version = "dev"

// App is everything a command needs to serve requests.
type App struct {
	Cfg        config.Config
	Log        *zap.SugaredLogger
	Store      store.Store
	Identity   identity.Platform
	Dispatcher *notify.Dispatcher
	Schemas    *validate.Schemas
	Service    *tenancy.Service

	closers []func()
}

// Resources are the external clients App is built over. Nil fields are
// connected from config as needed.
type Resources struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
	AWS   *session.Session
}

// Must builds the App, exiting on any error.
func Must(cfg config.Config, log *zap.SugaredLogger) *App {
	res := Resources{}
	if cfg.StoreBackend == "postgres" {
		res.Pool = db.MustConnect(cfg, log)
	}
	res.Redis = db.MustRedis(cfg, log)
	if cfg.StoreBackend == "dynamodb" || cfg.IdentityBackend == "cognito" || cfg.NotifierBackend == "ses" {
		res.AWS = db.MustAWS(cfg, log)
	}
	app, err := Build(cfg, log, res)
	if err != nil {
		log.Fatalw("bootstrap", "err", err)
	}
	return app
}

// Build wires the App over already-connected resources.
func Build(cfg config.Config, log *zap.SugaredLogger, res Resources) (*App, error) {
	app := &App{Cfg: cfg, Log: log}

	st, err := buildStore(cfg, log, res)
	if err != nil {
		return nil, err
	}
	app.Store = st

	idp, err := buildIdentity(cfg, log, res)
	if err != nil {
		return nil, err
	}
	app.Identity = idp

	n, closeNotifier, err := buildNotifier(cfg, log, res)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeNotifier)
	app.Dispatcher = notify.NewDispatcher(n, cfg.NotifyTimeout, log)

	sealer, err := secrets.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	if !sealer.Enabled() {
		log.Warnw("IDS_ENCRYPTION_KEY not set, integration secrets are stored unsealed")
	}

	if app.Schemas, err = validate.Default(); err != nil {
		return nil, fmt.Errorf("schemas: %w", err)
	}

	app.Service = tenancy.New(tenancy.Deps{
		Store:             st,
		Identity:          idp,
		Notifier:          app.Dispatcher,
		Composer:          notify.Composer{AppURL: cfg.AppURL},
		Sealer:            sealer,
		Log:               log,
		ProvisionerID:     cfg.ProvisionerID,
		MutationAttempts:  cfg.MutationAttempts,
		LookupConcurrency: cfg.LookupConcurrency,
	})
	return app, nil
}

func buildStore(cfg config.Config, log *zap.SugaredLogger, res Resources) (store.Store, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return store.NewMemory(log), nil
	case "postgres":
		if res.Pool == nil {
			return nil, errors.New("store backend postgres needs a connection pool")
		}
		if err := store.EnsureSchema(context.Background(), res.Pool); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		return store.NewPostgres(res.Pool, log), nil
	case "dynamodb":
		if res.AWS == nil {
			return nil, errors.New("store backend dynamodb needs an AWS session")
		}
		return store.NewDynamo(dynamodb.New(res.AWS), cfg.TenancyTable, cfg.UserTable, log), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func buildIdentity(cfg config.Config, log *zap.SugaredLogger, res Resources) (identity.Platform, error) {
	var p identity.Platform
	switch cfg.IdentityBackend {
	case "", "static":
		users, err := identity.ParseStatic(cfg.StaticUsers)
		if err != nil {
			return nil, fmt.Errorf("static users: %w", err)
		}
		p = identity.NewStatic(users...)
	case "cognito":
		if res.AWS == nil {
			return nil, errors.New("identity backend cognito needs an AWS session")
		}
		if cfg.CognitoUserPool == "" {
			return nil, errors.New("identity backend cognito needs COGNITO_USER_POOL_ID")
		}
		p = identity.NewCognito(cognitoidentityprovider.New(res.AWS), cfg.CognitoUserPool)
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
	}
	breaker := resilience.NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown)
	p = identity.NewGuarded(p, cfg.ProviderTimeout, breaker)
	if res.Redis != nil {
		p = identity.NewCached(p, res.Redis, cfg.IdentityCacheTTL, log)
	}
	return p, nil
}

func buildNotifier(cfg config.Config, log *zap.SugaredLogger, res Resources) (notify.Notifier, func(), error) {
	switch cfg.NotifierBackend {
	case "", "log":
		return notify.NewLog(log), func() {}, nil
	case "ses":
		if res.AWS == nil {
			return nil, nil, errors.New("notifier ses needs an AWS session")
		}
		if cfg.SESSender == "" {
			return nil, nil, errors.New("notifier ses needs SES_SENDER")
		}
		return notify.NewSES(ses.New(res.AWS), cfg.SESSender), func() {}, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, errors.New("notifier kafka needs KAFKA_BROKERS")
		}
		w := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		return notify.NewKafka(w), func() { closeWriter(w, log) }, nil
	}
	return nil, nil, fmt.Errorf("unknown notifier %q", cfg.NotifierBackend)
}

func closeWriter(w *kafka.Writer, log *zap.SugaredLogger) {
	if err := w.Close(); err != nil {
		log.Warnw("kafka writer close", "err", err)
	}
}

// Graph builds the Microsoft Graph client over a breaker of its own.
func (a *App) Graph() *directory.Graph {
	return directory.NewGraph(directory.Options{
		Authority: a.Cfg.DirectoryAuthority,
		BaseURL:   a.Cfg.GraphBaseURL,
		Timeout:   a.Cfg.ProviderTimeout,
		Breaker:   resilience.NewBreaker(a.Cfg.BreakerFailures, a.Cfg.BreakerCooldown),
		Log:       a.Log,
	})
}

// Router returns a router carrying the shared middleware and the public
// endpoints. mount adds the service's own routes.
func (a *App) Router(service string, mount func(chi.Router, *openapi.Registry)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.Log))
	r.Use(middleware.Tracing(service, a.Log))
	r.Use(middleware.Metrics(service, a.Log))
	r.Use(httpx.CORS(a.Cfg.CORSOrigin))
	r.Use(middleware.Principal(a.Cfg))

	reg := openapi.NewRegistry()
	r.Get("/healthz", httpx.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/openapi.json", reg.ServeHandler(service, Version))
	mount(r, reg)
	return r
}

// Serve runs h on addr until SIGINT or SIGTERM, then drains requests and
// pending notifications.
func (a *App) Serve(service, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		a.Log.Infow(service+" listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	a.Shutdown(srv)
	a.Log.Infow(service + " stopped")
}

// Shutdown stops srv and flushes what the App holds open, within 10s.
func (a *App) Shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			a.Log.Warnw("http shutdown", "err", err)
		}
	}
	if err := a.Dispatcher.Wait(ctx); err != nil {
		a.Log.Warnw("notifications still pending at shutdown", "err", err)
	}
	for _, c := range a.closers {
		c()
	}
	if err := middleware.ShutdownTracing(ctx); err != nil {
		a.Log.Warnw("tracing shutdown", "err", err)
	}
	_ = a.Log.Sync()
}
