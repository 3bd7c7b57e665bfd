package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"racecore/internal/api"
	"racecore/pkg/config"
	"racecore/pkg/core"
	"racecore/pkg/db"
	"racecore/pkg/db/maintenance"
	"racecore/pkg/logging"
	"racecore/pkg/probe"
	"racecore/pkg/replay"
	"racecore/pkg/session"
	"racecore/pkg/sim"
	"racecore/pkg/sim/mocksim"
	"racecore/pkg/store"
	"racecore/pkg/track"
	"racecore/pkg/tracker"
	"racecore/pkg/version"
)

// CLI holds the command line options.
type CLI struct {
	Config     string `help:"Path to the config file." default:"configs/racecore.yaml" type:"path"`
	InitConfig bool   `help:"Generate the default config file and exit."`
	Headless   bool   `help:"Run without the HTTP server, as fast as the core can step."`
	Frames     int    `help:"Stop after this many frames. 0 runs until the input ends." default:"0"`
	Replay     string `help:"Play back a recorded session id, or 'latest', instead of the scripted driver." placeholder:"SESSION"`
	Record     bool   `help:"Record every input frame to the replay database."`
	Version    bool   `help:"Print version information and exit." short:"v"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("racesim"),
		kong.Description("Vehicle dynamics, DRS and pit strategy simulation."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}))

	if cli.Version {
		fmt.Printf("racesim %s\n", version.String())
		return
	}

	// Handle --init-config flag
	if cli.InitConfig {
		if err := config.GenerateDefault(cli.Config); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", cli.Config)
		return
	}

	// .env is optional; it only seeds the environment overrides.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	if err := run(context.Background(), &cli, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cli *CLI, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cli.Record {
		appCfg.Replay.Record = true
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("Racecore Started", "version", version.String(), "track", appCfg.Track.Name, "cars", appCfg.Grid.Cars)

	layout, err := track.FromConfig(&appCfg.Track)
	if err != nil {
		return fmt.Errorf("failed to build track layout: %w", err)
	}

	var (
		dbConn *db.DB
		st     store.Store
	)
	if appCfg.Replay.Record || cli.Replay != "" {
		dbConn, st, err = initDB(ctx, appCfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()
	}

	source, err := initSource(ctx, appCfg, cli.Replay, st)
	if err != nil {
		return err
	}
	defer source.Close()

	results := probe.Run(ctx, startupProbes(layout, dbConn))
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	tr := tracker.New()
	sessionMgr := session.NewManager()
	statusH := api.NewStatusHandler()

	sched, recorder, err := setupScheduler(appCfg, layout, source, statusH, tr, sessionMgr, st)
	if err != nil {
		return err
	}
	if recorder != nil {
		defer func() {
			if err := recorder.Flush(context.Background()); err != nil {
				slog.Error("Failed to flush replay", "error", err)
			}
			slog.Info("Replay saved", "session", recorder.SessionID())
		}()
	}

	if cli.Headless || !appCfg.Server.Enabled {
		if err := sched.Run(ctx, cli.Frames); err != nil {
			return fmt.Errorf("simulation failed: %w", err)
		}
		printSummary(out, sched.Latest(), tr)
		return nil
	}

	var replays api.ReplayLister
	if st != nil {
		replays = st
	}
	return runLive(ctx, sched.Start, func(ctx context.Context) error {
		return runServer(ctx, appCfg, statusH, tr, sched, sessionMgr, replays)
	})
}

// runLive runs the scheduler loop next to serve. When serve returns, the loop
// is cancelled and awaited, so the deferred replay flush and closes in run see
// a stopped scheduler.
func runLive(ctx context.Context, start, serve func(context.Context) error) error {
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- start(loopCtx) }()

	err := serve(ctx)

	stopLoop()
	if loopErr := <-loopDone; loopErr != nil {
		slog.Error("Scheduler stopped with error", "error", loopErr)
	}
	return err
}

func initDB(ctx context.Context, appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.Replay.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	st := store.NewSQLiteStore(dbConn)
	if err := maintenance.Run(ctx, st, dbConn, time.Duration(appCfg.Replay.Retention)); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}
	return dbConn, st, nil
}

// initSource picks the replay player when a session is given, the scripted
// driver otherwise. A replay resizes the grid to the recorded car count.
func initSource(ctx context.Context, appCfg *config.Config, replayID string, st store.Store) (sim.InputSource, error) {
	if replayID != "" {
		player, err := replay.NewPlayer(ctx, st, replayID)
		if err != nil {
			return nil, err
		}
		sess := player.Session()
		if sess.Cars > 0 && sess.Cars != appCfg.Grid.Cars {
			slog.Warn("Replay grid differs from config, using the recorded grid", "recorded", sess.Cars, "configured", appCfg.Grid.Cars)
			appCfg.Grid.Cars = sess.Cars
		}
		slog.Info("Replaying session", "session", sess.ID, "frames", sess.FrameCount)
		return player, nil
	}

	driverCfg := mocksim.ConfigFromScenario(&appCfg.Scenario, time.Duration(appCfg.Ticker.FrameInterval), appCfg.Grid.Cars)
	return mocksim.NewDriver(driverCfg), nil
}

func startupProbes(layout *track.Layout, dbConn *db.DB) []probe.Probe {
	probes := []probe.Probe{
		{
			Name:     "Track Layout",
			Check:    func(context.Context) error { return checkLayout(layout) },
			Critical: true,
		},
	}
	if dbConn != nil {
		probes = append(probes, probe.Probe{
			Name:     "Replay Database",
			Check:    dbConn.PingContext,
			Critical: true,
		})
	}
	return probes
}

// checkLayout catches pit geometry that would leave a car unable to stop.
func checkLayout(layout *track.Layout) error {
	pit := &layout.Pit
	if !pit.InCorridor(pit.Box) {
		return fmt.Errorf("pit box %v is outside the pit lane corridor", pit.Box)
	}
	if pit.Box.Y() < pit.Entry || pit.Box.Y() > pit.Exit {
		return fmt.Errorf("pit box at %.0fm is not between entry %.0fm and exit %.0fm", pit.Box.Y(), pit.Entry, pit.Exit)
	}
	return nil
}

func setupScheduler(cfg *config.Config, layout *track.Layout, source sim.InputSource, sink core.StatusSink, tr *tracker.Tracker, sessionMgr *session.Manager, st store.Store) (*core.Scheduler, *replay.Recorder, error) {
	sched, err := core.NewScheduler(cfg, layout, source, sink)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.SetTracker(tr)
	sched.SetEventLog(sessionMgr)
	sched.AddResettable(sessionMgr)

	sched.AddJob(core.NewLapJob("LapSummary", func(c context.Context, snap *core.Snapshot) {
		for _, hud := range snap.HUDs {
			slog.Info("Standings", "vehicle", hud.Vehicle, "lap", hud.Lap, "tire", hud.Tire, "wear", fmt.Sprintf("%.0f%%", hud.TireWear))
		}
	}))

	var recorder *replay.Recorder
	if cfg.Replay.Record && st != nil {
		recorder = replay.NewRecorder(st, cfg.Track.Name, cfg.Grid.Cars)
		sched.SetRecorder(recorder)
		sched.AddResettable(recorder)

		// Flush every 10 simulated seconds so a crash loses little.
		sched.AddJob(core.NewTimeJob("ReplayFlush", 10, func(c context.Context, snap *core.Snapshot) {
			if err := recorder.Flush(c); err != nil {
				slog.Warn("Replay flush failed", "error", err)
			}
		}))
	}

	return sched, recorder, nil
}

func printSummary(out io.Writer, snap *core.Snapshot, tr *tracker.Tracker) {
	if snap == nil {
		fmt.Fprintln(out, "No frames simulated.")
		return
	}
	fmt.Fprintf(out, "Simulated %d frames (%.1fs)\n", snap.Frame, snap.SimTime)
	stats := tr.Snapshot()
	for _, hud := range snap.HUDs {
		s := stats[hud.Vehicle]
		best := "-"
		if s.BestLapMillis > 0 {
			best = time.Duration(s.BestLapMillis * int64(time.Millisecond)).String()
		}
		fmt.Fprintf(out, "car %d: lap %d, %.0f km/h, tire %s %.0f%%, pit %s, laps %d, best %s, drs %d, stops %d\n",
			hud.Vehicle, hud.Lap, hud.SpeedKPH, hud.Tire, hud.TireWear, hud.PitState,
			s.Laps, best, s.DRSActivations, s.PitStops)
	}
}

func runServer(ctx context.Context, cfg *config.Config, statusH *api.StatusHandler, tr *tracker.Tracker, sched *core.Scheduler, sessionMgr *session.Manager, replays api.ReplayLister) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address,
		statusH,
		api.NewStatsHandler(tr),
		api.NewControlHandler(sched),
		api.NewSessionHandler(sessionMgr, replays),
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Trace(slog.Default(), "Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
