package command

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mini-jsonrpc/dto"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/server"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an endpoint on TCP and, if RPC_WS_ADDR is set, WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeReg, err := cfg.Registry(logger)
		if err != nil {
			return err
		}
		defer closeReg()

		srv := server.New(
			server.WithName(cfg.Name),
			server.WithCodec(cfg.CodecType()),
			server.WithHeartbeat(cfg.HeartbeatInterval),
			server.WithLogger(logger),
		)
		srv.Use(middleware.LoggingMiddleware(logger))
		if cfg.HandlerTimeout > 0 {
			srv.Use(middleware.TimeOutMiddleware(cfg.HandlerTimeout))
		}
		if cfg.RateLimit > 0 {
			srv.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
		}
		srv.Register(demoRoutes(srv.Name())...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return srv.Serve("tcp", cfg.ListenAddr, cfg.AdvertiseAddr, reg)
		})

		var httpServer *http.Server
		if cfg.WSAddr != "" {
			mux := http.NewServeMux()
			mux.Handle(cfg.WSPath, srv)
			httpServer = &http.Server{Addr: cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				logger.Info("serving websocket", zap.String("addr", cfg.WSAddr), zap.String("path", cfg.WSPath))
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}

		color.Green("✓ %s listening on %s (%s)", cfg.Name, cfg.ListenAddr, cfg.CodecType())

		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down")
			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}
			return srv.Shutdown(shutdownTimeout)
		})
		return g.Wait()
	},
}

// demoRoutes answers a few calls so a fresh endpoint can be exercised with `rpcctl call`.
func demoRoutes(name string) []jsonrpc.RoutesGroup {
	return []jsonrpc.RoutesGroup{
		{
			Name: "Endpoint routes",
			Items: []jsonrpc.Route{
				{
					Method: "ping",
					HandlerFunc: func(context.Context, any) (any, error) {
						return "pong", nil
					},
				},
				{
					Method: "whoami",
					HandlerFunc: func(ctx context.Context, _ any) (any, error) {
						id, _ := jsonrpc.EndpointFrom(ctx)
						return []string{name, id}, nil
					},
				},
			},
		},
		{
			Name: "Workspace routes",
			Items: []jsonrpc.Route{
				{
					Method:      "getWorkspace",
					DecoderFunc: jsonrpc.DecodeParams[dto.WorkspaceRef](),
					HandlerFunc: func(_ context.Context, params any) (any, error) {
						return dto.Workspace{ID: params.(dto.WorkspaceRef).ID, Status: dto.WorkspaceRunning}, nil
					},
				},
			},
		},
		{
			Name: "Installer routes",
			Items: []jsonrpc.Route{
				{
					Method:      "installer/statusChanged",
					DecoderFunc: jsonrpc.DecodeParams[dto.InstallerStatusEvent](),
					HandlerFunc: func(ctx context.Context, params any) (any, error) {
						event := params.(dto.InstallerStatusEvent)
						endpointID, _ := jsonrpc.EndpointFrom(ctx)
						logger.Info("installer status",
							zap.String("endpoint", endpointID), zap.String("installer", event.InstallerName),
							zap.String("event", string(event.EventType)), zap.String("error", event.Error))
						return nil, nil
					},
				},
			},
		},
	}
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "how long to wait for in-flight requests")
}
