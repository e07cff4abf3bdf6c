package simple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/autotls/core/certman"
	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/core/server"
)

// App is a minimal HTTPS server with automatic certificates: a TLS
// listener backed by the certificate manager, plus a plain-HTTP
// listener that answers http-01 challenges and redirects everything
// else.
type App struct {
	config  Config
	manager *certman.Manager
	handler http.Handler
	logger  *slog.Logger
}

type AppOption func(*App) error

func NewApp(opts ...AppOption) (*App, error) {
	_ = godotenv.Load()
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger.New(logger.WithDevelopment(cfg.AppName)),
	}
	if cfg.Env == "production" {
		app.logger = logger.New(logger.WithProduction(cfg.AppName))
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.handler == nil {
		app.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "hello over https")
		})
	}

	if app.manager == nil {
		m, err := certman.NewManager(cfg.Certman, certman.WithLogger(app.logger))
		if err != nil {
			return nil, err
		}
		app.manager = m
	}

	return app, nil
}

func WithLogger(log *slog.Logger) AppOption {
	return func(app *App) error {
		if log == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = log
		return nil
	}
}

func WithHandler(handler http.Handler) AppOption {
	return func(app *App) error {
		if handler == nil {
			return errors.New("handler cannot be nil")
		}
		app.handler = handler
		return nil
	}
}

func WithManager(manager *certman.Manager) AppOption {
	return func(app *App) error {
		if manager == nil {
			return errors.New("certificate manager cannot be nil")
		}
		app.manager = manager
		return nil
	}
}

// Run serves until ctx is canceled or a listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", a.config.HTTPSAddr)
	if err != nil {
		return err
	}

	acceptor, err := server.NewAcmeAcceptor(ctx, server.ListenerAcceptor{Listener: ln}, a.manager,
		server.WithLogger(a.logger),
		server.WithTLSConfig(server.NewTLSConfig(a.manager)),
	)
	if err != nil {
		_ = ln.Close()
		return err
	}

	httpsServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := &http.Server{
		Addr:              a.config.HTTPAddr,
		Handler:           a.manager.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpsServer.Serve(retryListener{acceptor}) }()
	go func() { errCh <- httpServer.ListenAndServe() }()

	a.logger.Info("server started",
		logger.Component("app"),
		logger.Domains(a.config.Certman.Domains),
		slog.String("https_addr", a.config.HTTPSAddr),
		slog.String("http_addr", a.config.HTTPAddr),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = httpsServer.Shutdown(shutdownCtx)
		_ = acceptor.Close()
		return nil
	case err := <-errCh:
		_ = acceptor.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// retryListener keeps the HTTP server's accept loop alive across
// per-connection handshake failures.
type retryListener struct {
	acceptor *server.AcmeAcceptor
}

func (l retryListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.acceptor.Accept()
		if errors.Is(err, server.ErrHandshake) {
			continue
		}
		return conn, err
	}
}

func (l retryListener) Close() error   { return l.acceptor.Close() }
func (l retryListener) Addr() net.Addr { return l.acceptor.Addr() }

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
