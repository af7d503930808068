// Command eliteminer ties the hotspot store, galaxy index, journal reader
// and live session aggregator together into one binary. It follows the
// teacher's own cmd/radar entrypoint shape -- top-level flags, a subcommand
// dispatched off the first positional argument, signal.NotifyContext for
// graceful shutdown, a shared *http.ServeMux other components attach admin
// routes to -- but drives it with flaggy instead of the stdlib flag package,
// since this repo's CLI surface (four subcommands, each with its own flag
// set) is exactly flaggy's sweet spot.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/integrii/flaggy"

	"github.com/eliteminer/core/internal/dispatch"
	"github.com/eliteminer/core/internal/fsutil"
	"github.com/eliteminer/core/internal/galaxy"
	"github.com/eliteminer/core/internal/hotspot"
	"github.com/eliteminer/core/internal/httputil"
	"github.com/eliteminer/core/internal/ingest"
	"github.com/eliteminer/core/internal/journal"
	"github.com/eliteminer/core/internal/logging"
	"github.com/eliteminer/core/internal/pathconfig"
	"github.com/eliteminer/core/internal/query"
	"github.com/eliteminer/core/internal/session"
	"github.com/eliteminer/core/internal/timeutil"
	"github.com/eliteminer/core/internal/version"
)

func main() {
	var (
		dataRoot    string
		hotspotPath string
		galaxyPath  string
	)

	flaggy.SetName("eliteminer")
	flaggy.SetDescription("Offline mining-intelligence engine for Elite Dangerous journal data")
	flaggy.SetVersion(fmt.Sprintf("%s (git %s, built %s)", version.Version, version.GitSHA, version.BuildTime))
	flaggy.String(&dataRoot, "d", "data-root", "Application data root (config, hotspot store, state files)")
	flaggy.String(&hotspotPath, "", "hotspot-db", "Path to the hotspot sqlite database (defaults under data-root)")
	flaggy.String(&galaxyPath, "", "galaxy-db", "Path to the read-only galaxy coordinate index")

	watchCmd, watchFlags := newWatchCommand()
	queryCmd, queryFlags := newQueryCommand()
	migrateCmd, migrateFlags := newMigrateCommand()
	importCmd, importFlags := newImportCommand()

	flaggy.AttachSubcommand(watchCmd, 1)
	flaggy.AttachSubcommand(queryCmd, 1)
	flaggy.AttachSubcommand(migrateCmd, 1)
	flaggy.AttachSubcommand(importCmd, 1)

	flaggy.Parse()

	if dataRoot == "" {
		dataRoot = defaultDataRoot()
	}
	if hotspotPath == "" {
		hotspotPath = filepath.Join(dataRoot, "hotspots.db")
	}

	var err error
	switch {
	case watchCmd.Used:
		err = runWatch(dataRoot, hotspotPath, galaxyPath, watchFlags)
	case queryCmd.Used:
		err = runQuery(hotspotPath, galaxyPath, queryFlags)
	case migrateCmd.Used:
		hotspot.RunMigrateCommand(migrateFlags.positional(), hotspotPath)
		return
	case importCmd.Used:
		err = runImport(dataRoot, hotspotPath, importFlags)
	default:
		flaggy.ShowHelpAndExit("choose a subcommand: watch, query, migrate, import")
	}
	if err != nil {
		logging.WithComponent("cli").WithError(err).Fatal("command failed")
	}
}

func defaultDataRoot() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "data")
	}
	return "./data"
}

// openHotspotDB opens the hotspot store with its ordinary migration check,
// the same path every long-running subcommand (watch, import) uses.
func openHotspotDB(path string) (*hotspot.DB, error) {
	db, err := hotspot.OpenWithMigrationCheck(path, true)
	if err != nil {
		return nil, fmt.Errorf("open hotspot store: %w", err)
	}
	return db, nil
}

func openGalaxyDB(path string) (*galaxy.DB, error) {
	if path == "" {
		return nil, nil
	}
	db, err := galaxy.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open galaxy index: %w", err)
	}
	return db, nil
}

// ---- watch ----

type watchArgs struct {
	journalDir  string
	statePath   string
	replayAll   bool
	listen      string
	enableSpansh bool
}

func newWatchCommand() (*flaggy.Subcommand, *watchArgs) {
	cmd := flaggy.NewSubcommand("watch")
	cmd.Description = "Tail the live journal directory and update the hotspot store as events arrive"
	a := &watchArgs{listen: "127.0.0.1:8765"}
	cmd.String(&a.journalDir, "j", "journal-dir", "Journal log directory (defaults to the configured pathconfig value)")
	cmd.String(&a.statePath, "s", "state-file", "Incremental-scan state file")
	cmd.Bool(&a.replayAll, "r", "replay-from-start", "Replay every journal file from the beginning instead of skipping to the live tail")
	cmd.String(&a.listen, "l", "listen", "Admin/query HTTP listen address")
	cmd.Bool(&a.enableSpansh, "", "enable-spansh", "Enrich first-seen rings with Spansh coordinate lookups")
	return cmd, a
}

// runWatch wires C4 through C9 together for the live daemon mode: a journal
// Reader feeds parsed events to a Dispatcher, which fans them out to the
// ring ingestor and the session aggregator, while an HTTP mux serves the
// ring-finder query endpoint and each store's admin routes -- the same
// goroutines-plus-shared-mux shape as the teacher's cmd/radar main().
func runWatch(dataRoot, hotspotPath, galaxyPath string, a *watchArgs) error {
	log := logging.WithComponent("cli")

	cfgStore, err := pathconfig.Open(dataRoot)
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	cfg, err := cfgStore.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	journalDir := firstNonEmpty(a.journalDir, cfg.JournalDir)
	if journalDir == "" {
		return fmt.Errorf("no journal directory configured; pass --journal-dir or set it in config")
	}
	statePath := firstNonEmpty(a.statePath, filepath.Join(dataRoot, "journal_state.json"))

	hotspots, err := openHotspotDB(hotspotPath)
	if err != nil {
		return err
	}
	defer hotspots.Close()

	galaxyDB, err := openGalaxyDB(galaxyPath)
	if err != nil {
		return err
	}
	if galaxyDB != nil {
		defer galaxyDB.Close()
	}

	var enricher ingest.Enricher
	if a.enableSpansh {
		enricher = &ingest.SpanshEnricher{Client: httputil.NewStandardClient(&http.Client{Timeout: 15 * time.Second})}
	}
	ingestor := ingest.New(hotspots, enricher)

	aggregator := session.New(timeutil.RealClock{}, session.Config{
		AutoStartOnProspector: cfg.AutoStartSession,
		FullCargoIdleWindow:   time.Minute,
	})
	store := session.NewStore(dataRoot)
	shipSink := &shipInfoAdapter{aggregator: aggregator}

	d := dispatch.New(hotspots, ingestor, aggregator, shipSink)

	clock := timeutil.RealClock{}
	opts := []journal.Option{journal.WithReplayFromStart(a.replayAll)}
	reader := journal.NewReader(fsutil.OSFileSystem{}, clock, journalDir, statePath, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reader.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("journal reader stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-reader.Events():
				if !ok {
					return
				}
				if err := d.Dispatch(ev); err != nil {
					log.WithField("kind", ev.Kind).WithError(err).Warn("event dispatch failed, continuing")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// external is left as a nil interface (not a typed-nil *spanshCoordsAdapter)
	// when Spansh enrichment is off, so query.Engine's `e.external != nil`
	// check behaves correctly rather than wrapping a nil pointer.
	var external query.ExternalResolver
	if a.enableSpansh {
		external = &spanshCoordsAdapter{enricher: enricher.(*ingest.SpanshEnricher)}
	}
	engine := query.New(hotspots, galaxyDB, external)

	mux := http.NewServeMux()
	engine.AttachRoutes(mux)
	hotspots.AttachAdminRoutes(mux)
	attachSessionRoutes(mux, aggregator, store)

	server := &http.Server{Addr: a.listen, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", a.listen).Info("serving ring-finder query endpoint")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http server shutdown")
		}
	}()

	wg.Wait()
	log.Info("graceful shutdown complete")
	return nil
}

// attachSessionRoutes mounts the one manual action §4.9 describes as
// UI-driven: stop the active session, compute its SessionResult, and
// persist the report/CSV-index pair. There is no UI in this binary, so the
// daemon exposes the same action as a POST endpoint a collaborator's
// overlay can call.
func attachSessionRoutes(mux *http.ServeMux, aggregator *session.Aggregator, store *session.Store) {
	mux.HandleFunc("/session/persist", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		system := r.URL.Query().Get("system")
		body := r.URL.Query().Get("body")

		if err := aggregator.Stop(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		res, err := aggregator.Persist()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		path, err := store.Persist(res, system, body)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"report_path": path})
	})
}

// shipInfoAdapter forwards LoadGame/Loadout cargo-capacity updates into the
// session aggregator, satisfying dispatch.ShipInfoSink. No other
// collaborator in this repo needs ship identity/name, so nothing else is
// forwarded.
type shipInfoAdapter struct {
	aggregator *session.Aggregator
}

var _ dispatch.ShipInfoSink = (*shipInfoAdapter)(nil)

func (s *shipInfoAdapter) HandleShipInfo(ev dispatch.ShipInfoEvent) {
	if ev.CargoCapacity > 0 {
		s.aggregator.SetCargoCapacity(ev.CargoCapacity)
	}
}

// spanshCoordsAdapter reconciles ingest.Enricher's context-aware four-return
// Lookup with query.ExternalResolver's simpler Coords shape, so the same
// configured SpanshEnricher instance can serve both C6's enrichment and
// C7's last-resort reference-system lookup without two separate HTTP
// clients.
type spanshCoordsAdapter struct {
	enricher *ingest.SpanshEnricher
}

var _ query.ExternalResolver = (*spanshCoordsAdapter)(nil)

func (s *spanshCoordsAdapter) Coords(system string) (x, y, z float64, ok bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coords, _, found, err := s.enricher.Lookup(ctx, system)
	if err != nil || !found {
		return 0, 0, 0, false, err
	}
	return coords.X, coords.Y, coords.Z, true, nil
}

// ---- query ----

type queryArgs struct {
	reference     string
	ringType      string
	material      string
	confirmedOnly bool
	maxDistance   float64
	maxResults    int
}

func newQueryCommand() (*flaggy.Subcommand, *queryArgs) {
	cmd := flaggy.NewSubcommand("query")
	cmd.Description = "Find mining hotspots near a reference system"
	a := &queryArgs{maxDistance: 100}
	cmd.AddPositionalValue(&a.reference, "system", 1, true, "Reference system name")
	cmd.String(&a.ringType, "t", "ring-type", "Ring type filter (Rocky, Metallic, Metal Rich, Icy)")
	cmd.String(&a.material, "m", "material", "Material filter (e.g. Platinum)")
	cmd.Bool(&a.confirmedOnly, "c", "confirmed-only", "Only show confirmed (previously scanned) hotspots")
	cmd.Float64(&a.maxDistance, "r", "max-distance", "Maximum search radius in light years")
	cmd.Int(&a.maxResults, "n", "max-results", "Maximum number of results to print (0 = all)")
	return cmd, a
}

func runQuery(hotspotPath, galaxyPath string, a *queryArgs) error {
	hotspots, err := hotspot.OpenWithMigrationCheck(hotspotPath, false)
	if err != nil {
		return fmt.Errorf("open hotspot store: %w", err)
	}
	defer hotspots.Close()

	galaxyDB, err := openGalaxyDB(galaxyPath)
	if err != nil {
		return err
	}
	if galaxyDB != nil {
		defer galaxyDB.Close()
	}

	engine := query.New(hotspots, galaxyDB, nil)
	results, err := engine.Find(query.Filter{
		ReferenceSystem: a.reference,
		RingType:        hotspot.RingType(a.ringType),
		Material:        a.material,
		ConfirmedOnly:   a.confirmedOnly,
		MaxDistanceLY:   a.maxDistance,
		MaxResults:      a.maxResults,
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	printResults(results)
	return nil
}

func printResults(results []query.Result) {
	if len(results) == 0 {
		fmt.Println("no matching hotspots found")
		return
	}
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	for _, r := range results {
		visited := dim.Sprint("unvisited")
		if r.Visited {
			visited = color.GreenString("visited")
		}
		bold.Printf("%-24s %-18s", r.System, r.Body)
		fmt.Printf(" %6.1f ly  %-12s %-10s  %s  %s\n",
			r.DistanceLY, r.RingType, r.DensityLabel, r.HotspotsLabel, visited)
	}
}

// ---- migrate ----

type migrateArgs struct {
	action string
	arg    string
}

// positional reconstructs the positional-argument slice
// hotspot.RunMigrateCommand expects (it parses its own args[0], args[1]
// rather than taking typed flags, matching the teacher's migrate_cli.go).
func (m *migrateArgs) positional() []string {
	if m.arg == "" {
		return []string{m.action}
	}
	return []string{m.action, m.arg}
}

func newMigrateCommand() (*flaggy.Subcommand, *migrateArgs) {
	cmd := flaggy.NewSubcommand("migrate")
	cmd.Description = "Schema and data migrations for the hotspot store (up, down, status, force, baseline, detect)"
	a := &migrateArgs{}
	cmd.AddPositionalValue(&a.action, "action", 1, true, "up|down|status|force|baseline|detect")
	cmd.AddPositionalValue(&a.arg, "argument", 2, false, "version number, for force/baseline")
	return cmd, a
}

// ---- import ----

type importArgs struct {
	journalDir string
}

func newImportCommand() (*flaggy.Subcommand, *importArgs) {
	cmd := flaggy.NewSubcommand("import")
	cmd.Description = "Replay an entire journal directory from the beginning into the hotspot store, without starting a live watch"
	a := &importArgs{}
	cmd.AddPositionalValue(&a.journalDir, "journal-dir", 1, true, "Journal log directory to replay")
	return cmd, a
}

// importIdleTimeout is how long runImport waits for a new event before
// deciding the replay has caught up to the end of the archive and stopping.
// The reader itself has no "end of history" signal -- it's built to poll
// forever like a live tail -- so a catch-up run detects completion as
// quiet time rather than a reader-reported EOF.
const importIdleTimeout = 2 * time.Second

// runImport drives C4's ReplayFromStart mode to completion rather than
// leaving it tailing indefinitely: it runs the same Reader/Dispatcher pair
// as watch, but cancels the reader once no new event has arrived for
// importIdleTimeout, instead of polling forever. Useful for backfilling a
// hotspot store from a journal archive copied from another machine.
func runImport(dataRoot, hotspotPath string, a *importArgs) error {
	log := logging.WithComponent("cli")

	hotspots, err := openHotspotDB(hotspotPath)
	if err != nil {
		return err
	}
	defer hotspots.Close()

	ingestor := ingest.New(hotspots, nil)
	d := dispatch.New(hotspots, ingestor, nil, nil)

	statePath := filepath.Join(dataRoot, "import_state.json")
	clock := timeutil.RealClock{}
	reader := journal.NewReader(fsutil.OSFileSystem{}, clock, a.journalDir, statePath,
		journal.WithReplayFromStart(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx) }()

	idle := time.NewTimer(importIdleTimeout)
	defer idle.Stop()

	imported := 0
	for {
		select {
		case ev, ok := <-reader.Events():
			if !ok {
				<-done
				log.WithField("events", imported).Info("import complete")
				return nil
			}
			if err := d.Dispatch(ev); err != nil {
				log.WithField("kind", ev.Kind).WithError(err).Warn("event dispatch failed during import, continuing")
			}
			imported++
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(importIdleTimeout)
		case <-idle.C:
			cancel()
			if err := <-done; err != nil && err != context.Canceled {
				return fmt.Errorf("import: journal reader: %w", err)
			}
			log.WithField("events", imported).Info("import complete")
			return nil
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
