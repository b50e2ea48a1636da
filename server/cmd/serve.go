package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/adaptor"
	"github.com/ponyo877/collab/server/adaptor/collabpb"
	"github.com/ponyo877/collab/server/audit"
	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/metrics"
	"github.com/ponyo877/collab/server/pubsub"
	"github.com/ponyo877/collab/server/usecase"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the websocket, gRPC and HTTP endpoints.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, newLogger(cmd))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("http-addr", ":8080", "Listen address of the websocket and HTTP endpoints")
	flags.String("grpc-addr", ":50051", "Listen address of the gRPC service")
	flags.Bool("require-registered-rooms", false, "Only allow joins to rooms in the directory")
	flags.String("pubsub", "memory", "Cross-instance relay: memory for a single instance without relay, or redis")
	flags.String("redis-addr", "localhost:6379", "Redis address when --pubsub=redis")

	_ = viper.BindPFlag(httpAddrKey, flags.Lookup("http-addr"))
	_ = viper.BindPFlag(grpcAddrKey, flags.Lookup("grpc-addr"))
	_ = viper.BindPFlag(requireRegisteredRoomsKey, flags.Lookup("require-registered-rooms"))
	_ = viper.BindPFlag(pubsubKey, flags.Lookup("pubsub"))
	_ = viper.BindPFlag(redisAddrKey, flags.Lookup("redis-addr"))
}

// newPubsub returns nil for a single instance, which needs no relay.
func newPubsub(ctx context.Context, logger slog.Logger) (pubsub.Pubsub, error) {
	switch kind := viper.GetString(pubsubKey); kind {
	case "memory":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: viper.GetString(redisAddrKey)})
		ps, err := pubsub.NewRedis(ctx, logger, client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return ps, nil
	default:
		return nil, xerrors.Errorf("unknown pubsub %q", kind)
	}
}

func serve(ctx context.Context, logger slog.Logger) error {
	clock := quartz.NewReal()
	cfg := engineConfig()
	instanceID := uuid.NewString()
	logger = logger.With(slog.F("instance_id", instanceID))

	db, repo, err := openRepository(ctx)
	if err != nil {
		return xerrors.Errorf("open database: %w", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	auditor := audit.New(logger.Named("audit"), 0,
		audit.NewSlog(logger.Named("audit")),
		audit.NewStore(repo),
	)
	defer auditor.Close()

	ps, err := newPubsub(ctx, logger.Named("pubsub"))
	if err != nil {
		return xerrors.Errorf("create pubsub: %w", err)
	}
	opts := []domain.Option{domain.WithAuditor(auditor), domain.WithMetrics(m)}
	if ps != nil {
		defer ps.Close()
		opts = append(opts, domain.WithRelay(ps, instanceID))
	}

	manager := domain.NewStreamManager(logger.Named("stream"), clock, cfg, opts...)
	defer manager.Close()

	stream := usecase.NewStreamUsecase(logger, repo, manager, clock,
		usecase.WithRegisteredRooms(viper.GetBool(requireRegisteredRoomsKey)),
		usecase.WithStreamMetrics(m),
	)
	uc := usecase.NewUsecase(repo, stream)

	grpcServer := grpc.NewServer()
	collabpb.RegisterCollabServer(grpcServer, adaptor.NewAdaptor(logger, uc, clock))
	reflection.Register(grpcServer)

	ws := adaptor.NewWebSocketHandler(logger, uc, clock, cfg.MaxPayloadBytes)
	httpServer := &http.Server{
		Addr:              viper.GetString(httpAddrKey),
		Handler:           adaptor.NewHTTPHandler(logger, uc, ws, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", viper.GetString(grpcAddrKey))
	if err != nil {
		return xerrors.Errorf("listen grpc: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info(egCtx, "http server listening", slog.F("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
			return xerrors.Errorf("serve http: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		logger.Info(egCtx, "grpc server listening", slog.F("addr", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			return xerrors.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return stream.RunSweeper(egCtx, cfg.SweepInterval)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "http shutdown", slog.Error(err))
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return nil
	})

	if err := eg.Wait(); err != nil && !xerrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
