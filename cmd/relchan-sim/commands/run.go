package commands

import (
	"encoding/json"
	"io/ioutil"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/relchan/internal/metrics"
	"github.com/skycoin/relchan/pkg/connection"
	"github.com/skycoin/relchan/pkg/sim"
	"github.com/skycoin/relchan/pkg/util/pathutil"
)

type runCfg struct {
	ticks       int
	loss        float64
	seed        int64
	logLevel    string
	metricsAddr string
	statsStore  string
	syslogAddr  string
	tag         string
	jsonOut     bool

	cmd  *cobra.Command
	args []string

	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         sim.Config
	opts         []sim.Option
	closeStore   func() error
	report       *sim.Report
	failed       bool
}

var rc = &runCfg{}

var runCmd = &cobra.Command{
	Use:   "run [config-path]",
	Short: "Runs a simulation and prints what every channel delivered",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rc.cmd, rc.args = cmd, args

		rc.startLogger().
			readConfig().
			applyFlags().
			serveMetrics().
			openStore().
			runSim().
			printReport().
			waitOsSignals().
			exit()
	},
}

func init() {
	runCmd.Flags().IntVar(&rc.ticks, "ticks", 0, "number of ticks to send messages on (overrides config)")
	runCmd.Flags().Float64Var(&rc.loss, "loss", 0, "packet loss probability of both links (overrides config)")
	runCmd.Flags().Int64Var(&rc.seed, "seed", 0, "seed of the simulated links (overrides config)")
	runCmd.Flags().StringVar(&rc.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	runCmd.Flags().StringVarP(&rc.metricsAddr, "metrics-addr", "m", "", "address to serve prometheus metrics on; the process keeps serving until interrupted")
	runCmd.Flags().StringVar(&rc.statsStore, "stats-store", "", "where to record connection stats: memory, file:<dir> or bolt:<path>")
	runCmd.Flags().StringVar(&rc.syslogAddr, "syslog", "", "syslog server address. E.g. localhost:514")
	runCmd.Flags().StringVar(&rc.tag, "tag", "relchan-sim", "logging tag")
	runCmd.Flags().BoolVar(&rc.jsonOut, "json", false, "print the report as JSON")
}

func (rc *runCfg) startLogger() *runCfg {
	rc.masterLogger = logging.NewMasterLogger()
	rc.logger = rc.masterLogger.PackageLogger(rc.tag)

	if rc.syslogAddr != "" {
		hook, err := logrus_syslog.NewSyslogHook("udp", rc.syslogAddr, syslog.LOG_INFO, rc.tag)
		if err != nil {
			rc.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			rc.masterLogger.AddHook(hook)
			rc.masterLogger.Out = ioutil.Discard
		}
	}
	return rc
}

func (rc *runCfg) readConfig() *runCfg {
	path, err := pathutil.FindConfigPath(rc.args, 0, configEnv, pathutil.SimDefaults())
	if errors.Cause(err) == pathutil.ErrConfigNotFound {
		rc.logger.Info("No config file found, using defaults")
		rc.conf = sim.DefaultConfig()
		return rc
	}
	if path, err = pathutil.Expand(path); err != nil {
		rc.logger.Fatalf("Failed to expand config path: %s", err)
	}

	conf, err := sim.Load(path)
	if err != nil {
		rc.logger.Fatalf("Failed to load config: %s", err)
	}
	rc.conf = *conf
	return rc
}

func (rc *runCfg) applyFlags() *runCfg {
	flags := rc.cmd.Flags()
	if flags.Changed("ticks") {
		rc.conf.Ticks = rc.ticks
	}
	if flags.Changed("loss") {
		rc.conf.Link.Loss = rc.loss
	}
	if flags.Changed("seed") {
		rc.conf.Link.Seed = rc.seed
	}
	if flags.Changed("log-level") {
		rc.conf.LogLevel = rc.logLevel
	}

	if rc.conf.LogLevel != "" {
		lvl, err := logging.LevelFromString(rc.conf.LogLevel)
		if err != nil {
			rc.logger.Fatalf("Invalid log level %q: %s", rc.conf.LogLevel, err)
		}
		logging.SetLevel(lvl)
		rc.masterLogger.SetLevel(lvl)
	}
	return rc
}

func (rc *runCfg) serveMetrics() *runCfg {
	if rc.metricsAddr == "" {
		return rc
	}
	rc.opts = append(rc.opts, sim.WithMetrics(
		metrics.NewPrometheus("relchan_server"),
		metrics.NewPrometheus("relchan_client"),
	))

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(metrics.NewPrometheusRequests("relchan_sim_metrics"), promhttp.Handler()))
	go func() {
		if err := http.ListenAndServe(rc.metricsAddr, r); err != nil {
			rc.logger.Println("Failed to start metrics API:", err)
		}
	}()
	rc.logger.Infof("Serving metrics on %s/metrics", rc.metricsAddr)
	return rc
}

func (rc *runCfg) openStore() *runCfg {
	rc.closeStore = func() error { return nil }
	if rc.statsStore == "" {
		return rc
	}

	kind, location := rc.statsStore, ""
	if i := strings.IndexByte(rc.statsStore, ':'); i >= 0 {
		kind, location = rc.statsStore[:i], rc.statsStore[i+1:]
	}
	location, err := pathutil.Expand(location)
	if err != nil {
		rc.logger.Fatalf("Failed to expand stats store location: %s", err)
	}

	var store connection.LogStore
	switch kind {
	case "memory":
		store = connection.InMemoryLogStore()
	case "file":
		dir, err := pathutil.EnsureDir(location)
		if err != nil {
			rc.logger.Fatalf("Failed to create stats dir: %s", err)
		}
		store = connection.FileLogStore(dir)
	case "bolt":
		db, err := connection.NewBoltDBLogStore(location)
		if err != nil {
			rc.logger.Fatalf("Failed to open stats db: %s", err)
		}
		store, rc.closeStore = db, db.Close
	default:
		rc.logger.Fatalf("Unknown stats store %q", rc.statsStore)
	}
	rc.opts = append(rc.opts, sim.WithLogStore(store))
	return rc
}

func (rc *runCfg) runSim() *runCfg {
	rep, err := sim.Run(rc.conf, rc.masterLogger, rc.opts...)
	if cErr := rc.closeStore(); cErr != nil {
		rc.logger.WithError(cErr).Warn("Failed to close stats store")
	}
	if err != nil {
		rc.logger.Fatalf("Simulation failed: %s", err)
	}
	rc.report = rep
	return rc
}

func (rc *runCfg) printReport() *runCfg {
	if rc.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rc.report); err != nil {
			rc.logger.Fatalf("Failed to encode report: %s", err)
		}
	} else if err := rc.report.Write(os.Stdout); err != nil {
		rc.logger.Fatalf("Failed to print report: %s", err)
	}

	if err := rc.report.Check(); err != nil {
		rc.logger.Error(err)
		rc.failed = true
	}
	return rc
}

func (rc *runCfg) waitOsSignals() *runCfg {
	if rc.metricsAddr == "" {
		return rc
	}
	rc.logger.Info("Simulation done, serving metrics until interrupted")
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
	<-ch
	return rc
}

func (rc *runCfg) exit() {
	if rc.failed {
		os.Exit(1)
	}
}
