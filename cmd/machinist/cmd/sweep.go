package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/metrics"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
	"github.com/psantana5/machinist/pkg/records"
	"github.com/psantana5/machinist/pkg/session"
	"github.com/psantana5/machinist/pkg/shutdown"
	"github.com/psantana5/machinist/pkg/sweep"
	"github.com/psantana5/machinist/pkg/tracing"
)

var (
	sweepThreshold time.Duration
	sweepInterval  time.Duration
	sweepWorkers   int
	sweepDaemon    bool
	sweepListen    string
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Destroy machines whose records have gone stale",
	Long: `Sweep scans the orphan records on disk and destroys any machine whose
record is older than the staleness threshold and is no longer held by a live
owner. It is the recovery path for controller processes that died before
running their own teardown.

One-shot by default; --daemon sweeps periodically and serves /healthz and
/metrics over HTTP.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().DurationVar(&sweepThreshold, "threshold", 5*time.Hour, "age beyond which an unreleased machine is reclaimed")
	sweepCmd.Flags().DurationVar(&sweepInterval, "interval", 1*time.Hour, "sweep interval in daemon mode")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 4, "parallel destroy workers")
	sweepCmd.Flags().BoolVar(&sweepDaemon, "daemon", false, "run periodically instead of one-shot")
	sweepCmd.Flags().StringVar(&sweepListen, "listen", ":9464", "daemon HTTP listen address")
}

func runSweep(cmd *cobra.Command, args []string) error {
	logger := NewLogger().WithComponent("sweep")

	store, err := records.NewStore(GetStateDir())
	if err != nil {
		return err
	}

	knownHosts, err := session.DefaultKnownHosts()
	if err != nil {
		knownHosts = nil
	}

	provisioner := provision.NewCLI(GetProvisionerBin(), logger)

	if sweepDaemon {
		return runSweepDaemon(store, provisioner, knownHosts, logger)
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:  "machinist",
		OTLPEndpoint: otlpEndpoint,
		Enabled:      otlpEndpoint != "",
	})
	if err != nil {
		return err
	}
	defer tracer.Shutdown(context.Background())

	sweeper := sweep.NewSweeper(store, orphanDestroy(provisioner, nil), knownHosts, logger, nil)
	sweeper.SetWorkers(sweepWorkers)

	recs, err := store.List()
	if err != nil {
		return err
	}

	ctx, span := tracer.StartSweep(cmd.Context(), len(recs))
	result := sweeper.Sweep(ctx, recs, sweepThreshold, time.Now())
	tracing.EndSpan(span, result.Err())

	printSweepResult(result)
	return result.Err()
}

// orphanDestroy tears down the machine behind one record and counts it as an
// orphan-reason release. Already-gone instances count as success; the error
// still propagates so the sweeper can classify it.
func orphanDestroy(provisioner provision.Provisioner, m *metrics.Metrics) sweep.DestroyFunc {
	return func(ctx context.Context, record *models.OrphanRecord) error {
		err := provisioner.Destroy(ctx, record.Handle.ID, true)
		m.ObserveRelease(string(models.ReleaseReasonOrphaned), err == nil || errors.Is(err, provision.ErrInstanceNotFound))
		return err
	}
}

func runSweepDaemon(store *records.Store, provisioner provision.Provisioner, knownHosts *session.KnownHosts, logger *logging.Logger) error {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	sweeper := sweep.NewSweeper(store, orphanDestroy(provisioner, m), knownHosts, logger, m)
	sweeper.SetWorkers(sweepWorkers)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods("GET")

	server := &http.Server{
		Addr:    sweepListen,
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdownMgr := shutdown.New(30 * time.Second)
	shutdownMgr.Register(shutdown.StopHTTPServer(server, "sweep"))
	shutdownMgr.Register(func(context.Context) error {
		cancel()
		return nil
	})

	go func() {
		logger.Info("Sweep daemon listening", map[string]interface{}{"addr": sweepListen})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	go sweeper.RunPeriodic(ctx, sweepInterval, sweepThreshold)

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
	return nil
}

func printSweepResult(result *sweep.Result) {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Println(string(output))
		}
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Record", "Outcome")
	for _, id := range result.Destroyed {
		table.Append(id, "destroyed")
	}
	for _, id := range result.Skipped {
		table.Append(id, "skipped")
	}
	for _, failure := range result.Failures {
		table.Append(failure.RecordID, "failed: "+failure.Err.Error())
	}
	table.Render()
}
