package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kalambet/reelrec/internal/api"
	"github.com/kalambet/reelrec/internal/catalog"
	"github.com/kalambet/reelrec/internal/config"
	"github.com/kalambet/reelrec/internal/metrics"
	"github.com/kalambet/reelrec/internal/recommend"
	"github.com/kalambet/reelrec/internal/session"
	"github.com/kalambet/reelrec/internal/storage"
	"github.com/kalambet/reelrec/internal/users"
)

const sweepInterval = time.Minute

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reelrec server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running reelrec server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reelrec server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the recommendation tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "reelrec.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)})))
}

// loadEngine reads the catalog and similarity artifacts named by cfg.
func loadEngine(ctx context.Context, cfg config.Config) (*recommend.Engine, error) {
	cat, idx, err := catalog.Load(ctx, cfg.CatalogPath(), cfg.SimilarityPath())
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	return recommend.NewEngine(cat, idx), nil
}

// openRepository opens the user backend selected by storage.backend.
// The returned close func is never nil.
func openRepository(cfg config.Config) (users.Repository, func() error, error) {
	switch cfg.Storage.Backend {
	case "file":
		repo, err := users.OpenFileRepository(cfg.UsersFilePath())
		if err != nil {
			return nil, nil, fmt.Errorf("opening user file: %w", err)
		}
		return repo, func() error { return nil }, nil
	default:
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, store.Close, nil
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(stderr, "reelrec version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ttl, err := cfg.Session.Duration()
	if err != nil {
		return err
	}
	scheme, err := users.SchemeByName(cfg.Auth.CredentialScheme)
	if err != nil {
		return err
	}

	apiToken, err := config.EnsureAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("admin bearer token available", "path", filepath.Join(cfg.Storage.DataDir, "api_token"))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("reelrec is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("reelrec is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := loadEngine(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("catalog loaded", "titles", eng.Catalog().Len())

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	mgr := users.NewManager(repo, scheme)
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	slog.Info("user directory loaded", "backend", cfg.Storage.Backend, "users", mgr.Len(), "scheme", scheme.Name())

	sessions := session.NewRegistry(ttl)
	go sessions.Run(ctx, sweepInterval)

	if err := metrics.RegisterGauges(prometheus.DefaultRegisterer, mgr.Len, sessions.Len); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctrl := session.NewController(mgr, eng, session.Options{
		RequireCaptcha: cfg.Auth.RequireCaptcha,
		DefaultK:       cfg.Retrieval.TopK,
	})
	handler := api.NewAppHandler(api.AppDeps{
		Controller: ctrl,
		Sessions:   sessions,
		Users:      mgr,
		Catalog:    eng.Catalog(),
		AdminToken: apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Engine: eng, DefaultK: cfg.Retrieval.TopK, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "reelrec listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves MCP on stdio without the HTTP listener. Nothing is written
// to stdout except protocol frames.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := loadEngine(ctx, cfg)
	if err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Engine: eng, DefaultK: cfg.Retrieval.TopK, Version: version})
	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("reelrec is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop reelrec (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to reelrec (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	running := false
	resp, err := client.Get(serverURL + "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	if running {
		if token, err := config.ReadAPIToken(cfg.Storage.DataDir); err == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			var stats api.StatsView
			if resp, err := c.get(ctx, "/admin/stats"); err == nil && decodeJSON(resp, &stats) == nil {
				printStatus("Titles", "%d", stats.Titles)
				printStatus("Users", "%d", stats.Users)
				printStatus("Sessions", "%d", stats.Sessions)
			}
		}
	}

	printStatus("Backend", "%s", cfg.Storage.Backend)
	printStatus("Catalog", "%s", cfg.CatalogPath())
	printStatus("Similarity", "%s", cfg.SimilarityPath())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
