// Package maintenance inspects and repairs fleet projections offline.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/motorpool/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/motorpool/internal/platform/grpc"
	server "github.com/louisbranch/motorpool/internal/services/fleet/app"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
	"github.com/louisbranch/motorpool/internal/services/fleet/storage"
)

// rebuildAll selects every projection for -rebuild.
const rebuildAll = "all"

// Config holds maintenance command configuration.
type Config struct {
	Storage    server.StorageConfig
	Timeout    time.Duration
	Status     bool
	Rebuild    string
	CatchUp    bool
	Integrity  bool
	JSONOutput bool
	// HealthAddr is the gRPC health address of a running fleet process whose
	// live runner health -status also reports.
	HealthAddr string
}

type envConfig struct {
	EventsBackend      string        `env:"MOTORPOOL_FLEET_EVENTS_BACKEND" envDefault:"sqlite"`
	EventsDBPath       string        `env:"MOTORPOOL_FLEET_EVENTS_DB_PATH" envDefault:"data/fleet-events.db"`
	PostgresDSN        string        `env:"MOTORPOOL_FLEET_POSTGRES_DSN"`
	ProjectionsBackend string        `env:"MOTORPOOL_FLEET_PROJECTIONS_BACKEND" envDefault:"sqlite"`
	ProjectionsDBPath  string        `env:"MOTORPOOL_FLEET_PROJECTIONS_DB_PATH" envDefault:"data/fleet-projections.db"`
	MongoURI           string        `env:"MOTORPOOL_FLEET_MONGO_URI"`
	MongoDatabase      string        `env:"MOTORPOOL_FLEET_MONGO_DATABASE" envDefault:"motorpool"`
	Timeout            time.Duration `env:"MOTORPOOL_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := entrypoint.ParseConfig(&envCfg); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Storage: server.StorageConfig{
			EventsBackend:      envCfg.EventsBackend,
			EventsDBPath:       envCfg.EventsDBPath,
			PostgresDSN:        envCfg.PostgresDSN,
			ProjectionsBackend: envCfg.ProjectionsBackend,
			ProjectionsDBPath:  envCfg.ProjectionsDBPath,
			MongoURI:           envCfg.MongoURI,
			MongoDatabase:      envCfg.MongoDatabase,
		},
		Timeout: envCfg.Timeout,
	}

	fs.StringVar(&cfg.Storage.EventsDBPath, "events-db-path", cfg.Storage.EventsDBPath, "path to the events sqlite database")
	fs.StringVar(&cfg.Storage.ProjectionsDBPath, "projections-db-path", cfg.Storage.ProjectionsDBPath, "path to the projections sqlite database")
	fs.BoolVar(&cfg.Status, "status", false, "report each projection's checkpoint, lag and persisted state")
	fs.StringVar(&cfg.Rebuild, "rebuild", "", "reset a projection (name or \"all\") so it replays the feed")
	fs.BoolVar(&cfg.CatchUp, "catch-up", false, "apply pending events to projections now (after -rebuild when combined)")
	fs.BoolVar(&cfg.Integrity, "integrity", false, "replay the feed into a scratch store and compare against stored documents")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.StringVar(&cfg.HealthAddr, "health-addr", "", "gRPC health address of a running fleet process (with -status)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	modes := 0
	for _, on := range []bool{cfg.Status, cfg.Rebuild != "" || cfg.CatchUp, cfg.Integrity} {
		if on {
			modes++
		}
	}
	switch {
	case modes == 0:
		return errors.New("one of -status, -rebuild, -catch-up or -integrity is required")
	case cfg.Status && modes > 1:
		return errors.New("-status cannot be combined with other modes")
	case cfg.Integrity && modes > 1:
		return errors.New("-integrity cannot be combined with -rebuild or -catch-up")
	case cfg.HealthAddr != "" && !cfg.Status:
		return errors.New("-health-addr requires -status")
	}
	if cfg.Timeout <= 0 {
		return errors.New("-timeout must be > 0")
	}
	return nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if errOut == nil {
		errOut = io.Discard
	}
	if err := validate(cfg); err != nil {
		return err
	}
	if _, err := resolveProjections(cfg.Rebuild); err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMaintenance, func(ctx context.Context) error {
		stores, err := openStores(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := stores.Close(); closeErr != nil {
				fmt.Fprintf(errOut, "Error: close stores: %v\n", closeErr)
			}
		}()
		return runWithStores(ctx, cfg, stores.Events, stores.Projections, out, errOut)
	})
}

// runWithStores contains the maintenance logic over already open stores.
func runWithStores(ctx context.Context, cfg Config, events storage.EventStore, projections storage.ProjectionStore, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if err := validate(cfg); err != nil {
		return err
	}
	handlers, err := resolveProjections(cfg.Rebuild)
	if err != nil {
		return err
	}
	manager, err := projection.NewManager(events, projections, handlers, projection.Options{}, nil)
	if err != nil {
		return err
	}

	var results []runResult
	switch {
	case cfg.Status:
		live, closeLive, err := liveHealth(cfg.HealthAddr)
		if err != nil {
			return err
		}
		defer closeLive()
		results = statusResults(ctx, events, projections, handlers, live)
	case cfg.Integrity:
		results = integrityResults(ctx, events, projections, handlers)
	default:
		results = rebuildResults(ctx, manager, projections, cfg.Rebuild != "", cfg.CatchUp)
	}

	failed := false
	for _, result := range results {
		if cfg.JSONOutput {
			outputJSON(out, errOut, result)
		} else {
			printResult(out, errOut, result)
		}
		if result.ExitCode != 0 {
			failed = true
		}
	}
	if failed {
		return errors.New("maintenance failed")
	}
	return nil
}

// resolveProjections maps a -rebuild value to handlers. Empty selects all.
func resolveProjections(name string) ([]projection.Handler, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == rebuildAll {
		return projection.Handlers(), nil
	}
	h, err := projection.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("-rebuild: %w", err)
	}
	return []projection.Handler{h}, nil
}

type statusReport struct {
	// Live is the runner health reported by a running fleet process.
	Live       string    `json:"live,omitempty"`
	Checkpoint uint64    `json:"checkpoint"`
	LatestSeq  uint64    `json:"latest_seq"`
	Lag        uint64    `json:"lag"`
	State      string    `json:"state,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	FaultedSeq uint64    `json:"faulted_seq,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

type rebuildReport struct {
	Reset      bool   `json:"reset"`
	Applied    int    `json:"applied"`
	Checkpoint uint64 `json:"checkpoint"`
}

type runResult struct {
	Projection string          `json:"projection"`
	Mode       string          `json:"mode"`
	Report     json.RawMessage `json:"report,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExitCode   int             `json:"-"`
}

func (r *runResult) fail(format string, args ...any) {
	r.Error = fmt.Sprintf(format, args...)
	r.ExitCode = 1
}

func (r *runResult) setReport(report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		r.fail("encode report: %v", err)
		return
	}
	r.Report = payload
}

// liveHealthFunc reports the live health of a projection runner.
type liveHealthFunc func(ctx context.Context, projectionName string) string

// liveHealth connects to a fleet health server. With no address it returns a
// nil func and nothing is reported.
func liveHealth(addr string) (liveHealthFunc, func(), error) {
	if strings.TrimSpace(addr) == "" {
		return nil, func() {}, nil
	}
	conn, err := platformgrpc.NewClient(addr)
	if err != nil {
		return nil, nil, err
	}
	live := func(ctx context.Context, name string) string {
		status, err := platformgrpc.CheckHealth(ctx, conn, projection.HealthService(name))
		if err != nil {
			return "UNREACHABLE"
		}
		return status.String()
	}
	return live, func() { _ = conn.Close() }, nil
}

func statusResults(ctx context.Context, events storage.FeedReader, projections storage.ProjectionStore, handlers []projection.Handler, live liveHealthFunc) []runResult {
	results := make([]runResult, 0, len(handlers))
	latest, latestErr := events.LatestGlobalSeq(ctx)
	persisted, statusErr := projections.ListProjectionStatuses(ctx)
	byName := make(map[string]storage.ProjectionStatus, len(persisted))
	for _, status := range persisted {
		byName[status.Projection] = status
	}

	for _, h := range handlers {
		result := runResult{Projection: h.Name(), Mode: "status"}
		if latestErr != nil {
			result.fail("latest global seq: %v", latestErr)
			results = append(results, result)
			continue
		}
		if statusErr != nil {
			result.fail("list projection statuses: %v", statusErr)
			results = append(results, result)
			continue
		}
		checkpoint, err := projections.GetCheckpoint(ctx, h.Name())
		if err != nil {
			result.fail("checkpoint: %v", err)
			results = append(results, result)
			continue
		}
		status := byName[h.Name()]
		var liveStatus string
		if live != nil {
			liveStatus = live(ctx, h.Name())
		}
		result.setReport(statusReport{
			Live:       liveStatus,
			Checkpoint: checkpoint.LastSeq,
			LatestSeq:  latest,
			Lag:        projection.Lag(latest, checkpoint.LastSeq),
			State:      status.State,
			Attempts:   status.Attempts,
			LastError:  status.LastError,
			FaultedSeq: status.FaultedSeq,
			UpdatedAt:  status.UpdatedAt,
		})
		results = append(results, result)
	}
	return results
}

func rebuildResults(ctx context.Context, manager *projection.Manager, projections storage.ProjectionStore, reset, catchUp bool) []runResult {
	names := manager.Names()
	results := make([]runResult, 0, len(names))
	mode := "catch-up"
	if reset {
		mode = "rebuild"
	}
	for _, name := range names {
		result := runResult{Projection: name, Mode: mode}
		runner, err := manager.Runner(name)
		if err != nil {
			result.fail("%v", err)
			results = append(results, result)
			continue
		}
		var report rebuildReport
		var failure error
		if reset {
			if err := runner.Rebuild(ctx); err != nil {
				result.fail("rebuild: %v", err)
				results = append(results, result)
				continue
			}
			report.Reset = true
		}
		if catchUp {
			applied, err := runner.CatchUp(ctx)
			report.Applied = applied
			if err != nil {
				failure = fmt.Errorf("catch up: %w", err)
			}
		}
		if checkpoint, err := projections.GetCheckpoint(ctx, name); err == nil {
			report.Checkpoint = checkpoint.LastSeq
		} else if failure == nil {
			failure = fmt.Errorf("checkpoint: %w", err)
		}
		result.setReport(report)
		if failure != nil {
			result.fail("%v", failure)
		}
		results = append(results, result)
	}
	return results
}

func integrityResults(ctx context.Context, events storage.FeedReader, projections storage.ProjectionStore, handlers []projection.Handler) []runResult {
	results := make([]runResult, 0, len(handlers))
	for _, h := range handlers {
		result := runResult{Projection: h.Name(), Mode: "integrity"}
		report, err := projection.CheckIntegrity(ctx, events, projections, h)
		if err != nil {
			result.fail("integrity check: %v", err)
			results = append(results, result)
			continue
		}
		result.setReport(report)
		if report.Drifted() {
			result.ExitCode = 1
		}
		results = append(results, result)
	}
	return results
}

func outputJSON(out io.Writer, errOut io.Writer, result runResult) {
	encoded, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(errOut, "Error: encode report: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(encoded))
}

func printResult(out io.Writer, errOut io.Writer, result runResult) {
	prefix := fmt.Sprintf("[%s] ", result.Projection)
	if result.Error != "" {
		fmt.Fprintf(errOut, "%sError: %s\n", prefix, result.Error)
	}
	if len(result.Report) == 0 {
		return
	}
	switch result.Mode {
	case "status":
		var report statusReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "%sError: decode report: %v\n", prefix, err)
			return
		}
		state := report.State
		if state == "" {
			state = "unknown"
		}
		fmt.Fprintf(out, "%scheckpoint=%d latest=%d lag=%d state=%s\n", prefix, report.Checkpoint, report.LatestSeq, report.Lag, state)
		if report.Live != "" {
			fmt.Fprintf(out, "%slive=%s\n", prefix, report.Live)
		}
		if report.LastError != "" {
			fmt.Fprintf(out, "%slast error at seq %d after %d attempts: %s\n", prefix, report.FaultedSeq, report.Attempts, report.LastError)
		}
	case "integrity":
		var report projection.IntegrityReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "%sError: decode report: %v\n", prefix, err)
			return
		}
		fmt.Fprintf(out, "%sIntegrity check through seq %d (%d events replayed, %d documents checked)\n", prefix, report.Checkpoint, report.Replayed, report.Checked)
		for _, drift := range report.Drift {
			fmt.Fprintf(out, "%s  %s %s/%s\n", prefix, drift.Kind, drift.Model, drift.Key)
		}
	default:
		var report rebuildReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "%sError: decode report: %v\n", prefix, err)
			return
		}
		if report.Reset {
			fmt.Fprintf(out, "%sReset for rebuild\n", prefix)
		}
		fmt.Fprintf(out, "%sApplied %d events, checkpoint %d\n", prefix, report.Applied, report.Checkpoint)
	}
}
