package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/halver/nudge/internal/api"
	"github.com/halver/nudge/internal/config"
	"github.com/halver/nudge/internal/retention"
	"github.com/halver/nudge/internal/storage"
	"github.com/halver/nudge/internal/suggest"
	"github.com/halver/nudge/internal/trajectory"
	"github.com/halver/nudge/internal/trigger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nudge daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nudge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and trigger engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nudge.pid")
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

// recentSiteRecorder folds dwelled trajectory entries into the recent_sites
// table. Satisfies trajectory.RecentSiteSink.
type recentSiteRecorder struct {
	store *storage.Store
}

func (r recentSiteRecorder) SaveRecentSite(e trajectory.Entry) error {
	return r.store.SaveRecentSite(storage.RecentSite{
		URL:            e.URL,
		Title:          e.Title,
		Domain:         e.Domain,
		Category:       e.Category,
		DurationMs:     e.DurationMs,
		FirstVisitedAt: e.VisitedAt,
		LastVisitedAt:  e.VisitedAt,
	})
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "nudge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the extension bearer token exists in the platform secret store.
	apiToken, err := config.GetAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if the daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nudge is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("nudge is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// A cooldown set at runtime through the API survives restarts; it wins
	// over the configured default.
	cooldown := time.Duration(cfg.Trigger.GlobalCooldownSeconds) * time.Second
	if raw, ok, err := store.GetValue(api.CooldownKey); err == nil && ok {
		if secs, convErr := strconv.Atoi(raw); convErr == nil && secs > 0 {
			cooldown = time.Duration(secs) * time.Second
		}
	}

	// Restore the trajectory from the last run.
	buf := trajectory.NewBuffer(store, recentSiteRecorder{store: store})
	if err := buf.Load(); err != nil {
		slog.Warn("could not restore trajectory", "error", err)
	}

	// Build the suggestion path: backend client, batch recording, UI feed.
	feed := api.NewFeed()
	backend := suggest.NewClientWithBaseURL(cfg.Backend.APIKey, cfg.Backend.BaseURL)
	dispatcher := suggest.NewDispatcher(backend, store, feed)

	eng := trigger.NewEngine(buf, dispatcher,
		trigger.WithGlobalCooldown(cooldown),
		trigger.WithDwellDelay(time.Duration(cfg.Trigger.DwellSeconds)*time.Second),
	)

	handler := api.NewHandler(api.Deps{
		Engine: eng,
		Store:  store,
		Feed:   feed,
		Token:  apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over streamable HTTP on its own port so local agents can
	// query activity context without the extension token.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Engine: eng,
		Store:  store,
		Feed:   feed,
	})
	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)

	pruner := retention.NewWorker(store, time.Duration(cfg.Retention.Days)*24*time.Hour, time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("nudge listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpHTTP.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		pruner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
			slog.Warn("mcp server shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
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
		printError("nudge is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nudge (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nudge (PID %d)", pid)
	return nil
}

// statusResponse mirrors the daemon's GET /status payload.
type statusResponse struct {
	Engine             trigger.Snapshot `json:"engine"`
	PendingSuggestions int              `json:"pending_suggestions"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}
	printStatus("MCP port", "%d", cfg.Server.MCPPort)

	if running {
		if token, tokenErr := config.GetAPIToken(); tokenErr == nil {
			statusResp, err := apiGet(client, serverURL+"/status", token)
			if err == nil {
				var st statusResponse
				if json.NewDecoder(statusResp.Body).Decode(&st) == nil {
					printStatus("Trigger state", "%s", st.Engine.State)
					printStatus("Trajectory", "%d entries", st.Engine.TrajectoryLength)
					printStatus("Session tasks", "%d", st.Engine.SessionTasks)
					printStatus("Active tasks", "%d", st.Engine.ActiveTasks)
					printStatus("Global cooldown", "%ds", st.Engine.GlobalCooldownSeconds)
					printStatus("Pending batches", "%d", st.PendingSuggestions)
				}
				statusResp.Body.Close()
			}
		}
	}

	printStatus("Backend", "%s", cfg.Backend.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
