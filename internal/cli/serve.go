package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/server"
)

// shutdownTimeout bounds how long in-flight requests may take after a
// signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the travel assistant and the retrieval pipeline over HTTP.

Routes:
  POST /threads                 start a thread
  POST /threads/:id/messages    send a message (server-sent events)
  GET  /threads/:id             thread state and pending action
  GET  /threads/:id/history     checkpoints of a thread
  GET  /threads/:id/events      engine events of the latest turn
  POST /threads/:id/approve     run the pending action
  POST /threads/:id/reject      decline the pending action
  POST /rag/initialize|query|clear, GET /rag/history|status
  GET  /healthz, /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions, opts *ServeOptions) error {
	cfg := rootOpts.Config
	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	defer func() { _ = a.Close() }()

	tp := newTracerProvider()
	defer func() {
		if err := emit.Flush(context.Background(), tp); err != nil {
			log.Warnf("flush traces: %v", err)
		}
		_ = tp.Shutdown(context.Background())
	}()
	tracer := emit.NewOTelEmitter(tp.Tracer("travelbot"))
	events := emit.NewBufferedEmitter()

	ctl, err := a.sessions(ctx, emit.Multi(tracer, events))
	if err != nil {
		return err
	}
	pipeline, err := a.pipeline(tracer)
	if err != nil {
		log.Warnf("retrieval pipeline disabled: %v", err)
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(ctl, pipeline, a.registry, server.WithEvents(events)).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
