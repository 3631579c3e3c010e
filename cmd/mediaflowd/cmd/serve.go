package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/castwell/mediaflow/internal/acl"
	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/atfp"
	"github.com/castwell/mediaflow/internal/config"
	"github.com/castwell/mediaflow/internal/database"
	"github.com/castwell/mediaflow/internal/database/migrations"
	"github.com/castwell/mediaflow/internal/ffmpeg"
	internalhttp "github.com/castwell/mediaflow/internal/http"
	"github.com/castwell/mediaflow/internal/http/handlers"
	"github.com/castwell/mediaflow/internal/repository"
	"github.com/castwell/mediaflow/internal/rpc"
	"github.com/castwell/mediaflow/internal/transcoder"
	"github.com/castwell/mediaflow/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mediaflowd server",
	Long: `Start the mediaflowd HTTP server and API.

The server provides:
- Chunked upload initiate/part/complete/abort endpoints
- ACL read/edit endpoints gating every resource
- HLS stream initiate and element-fetch endpoints
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	uploadRequests := repository.NewUploadRequestRepository(db.DB)
	chunks := repository.NewFileChunkRepository(db.DB)
	resources := repository.NewResourceRepository(db.DB)
	acls := repository.NewACLRepository(db.DB)

	backend, err := asyncstore.NewLocalBackend(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}

	// The rpc notifier server must be listening before the runner's client
	// dials it: both ends live in this same process, the server standing in
	// for the out-of-scope consumer a future split-process deployment would
	// run separately.
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.NewServer(rpc.ServerConfig{
			SocketPath:   cfg.RPC.SocketPath,
			ExternalAddr: cfg.RPC.ListenAddr,
		}, logger, transcodeEventLogger(logger))
		if err := rpcServer.Start(); err != nil {
			return fmt.Errorf("starting rpc notifier server: %w", err)
		}
		defer rpcServer.Stop()
	}

	notifier, err := dialNotifier(context.Background(), cfg.RPC, logger)
	if err != nil {
		return fmt.Errorf("connecting to rpc notifier: %w", err)
	}
	if notifier != nil {
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Warn("closing rpc notifier client", slog.String("error", err.Error()))
			}
		}()
	}

	ffmpegPath, err := resolveFFmpegPath(context.Background(), cfg.FFmpeg, logger)
	if err != nil {
		return fmt.Errorf("resolving ffmpeg binary: %w", err)
	}

	factory := atfp.DefaultFactory(atfp.FactoryConfig{
		FFmpegPath:          ffmpegPath,
		ScratchBufferSize:   int(cfg.Pipeline.ScratchBufferSize.Bytes()),
		HLSSegmentDuration:  int(cfg.HLS.SegmentDuration.Seconds()),
		HLSMaxSegmentDigits: cfg.HLS.MaxSegmentDigits,
		HLSKeyBits:          cfg.HLS.KeyBits,
		HLSFlushBufferSize:  int(cfg.HLS.FlushBufferSize.Bytes()),
		ImageMaxWidth:       cfg.Image.MaxWidth,
		ImageMaxHeight:      cfg.Image.MaxHeight,
		ImageFormat:         cfg.Image.Format,
	})
	runner := transcoder.NewRunner(factory, notifier, logger)

	engine := acl.New(resources, acls)

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	docsHandler := handlers.NewDocsHandler("mediaflow API", "/openapi.yaml", handlers.WithSystemTheme())
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	uploadHandler := handlers.NewUploadHandler(
		uploadRequests,
		chunks,
		resources,
		backend,
		runner,
		cfg.Upload.MaxActiveRequests,
		cfg.Upload.MaxChunkSize.Bytes(),
		cfg.Upload.MaxUserQuotaBytes.Bytes(),
		logger,
	)
	uploadHandler.Register(server.API())
	uploadHandler.RegisterChiRoutes(server.Router())

	aclHandler := handlers.NewACLHandler(engine)
	aclHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(
		engine,
		backend,
		cfg.Stream.DocIDParam,
		cfg.Stream.DetailParam,
		int(cfg.Stream.CacheMaxAge.Seconds()),
		logger,
	)
	streamHandler.Register(server.API())
	streamHandler.RegisterChiRoutes(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting mediaflowd server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// resolveFFmpegPath honors cfg.FFmpeg.BinaryPath's documented "empty =
// auto-detect": when unset, it shells out via ffmpeg.BinaryDetector to
// locate and version-check the binary on PATH, logging what it found.
func resolveFFmpegPath(ctx context.Context, cfg config.FFmpegConfig, logger *slog.Logger) (string, error) {
	if cfg.BinaryPath != "" {
		return cfg.BinaryPath, nil
	}

	info, err := ffmpeg.NewBinaryDetector().Detect(ctx)
	if err != nil {
		return "", fmt.Errorf("auto-detecting ffmpeg binary: %w", err)
	}
	logger.Info("auto-detected ffmpeg binary",
		slog.String("path", info.FFmpegPath),
		slog.String("version", info.Version),
	)
	return info.FFmpegPath, nil
}

// dialNotifier dials the rpc notifier server mediaflowd itself hosts when
// cfg.Enabled, mirroring the local-process loop every Runner.Run completion
// reports through. A nil *rpc.Client is a valid Runner input: completion
// events are simply not reported.
func dialNotifier(ctx context.Context, cfg config.RPCConfig, logger *slog.Logger) (*rpc.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	client, err := rpc.DialClient(dialCtx, cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to rpc notifier", slog.String("socket", cfg.SocketPath))
	return client, nil
}

// transcodeEventLogger builds the rpc.Handler the daemon's own notifier
// server uses to record every transcode-complete/failed event it receives.
func transcodeEventLogger(logger *slog.Logger) rpc.Handler {
	return func(_ context.Context, event rpc.TranscodeEvent) error {
		logger.Info("transcode event received",
			slog.String("resource_id", event.ResourceID),
			slog.String("version", event.Version),
			slog.String("status", string(event.Status)),
			slog.String("reason", event.Reason),
		)
		return nil
	}
}
