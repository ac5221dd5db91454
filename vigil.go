// Package vigil supervises long-running services: it checks their health on
// an interval, restarts the ones that died, snapshots their SQLite data files
// and routes alert events to configurable sinks.
package vigil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/okonev/vigil/internal/alert"
	"github.com/okonev/vigil/internal/alert/factory"
	"github.com/okonev/vigil/internal/backup"
	"github.com/okonev/vigil/internal/config"
	"github.com/okonev/vigil/internal/control"
	"github.com/okonev/vigil/internal/logger"
	"github.com/okonev/vigil/internal/metrics"
	"github.com/okonev/vigil/internal/probe"
	"github.com/okonev/vigil/internal/schedule"
	iapi "github.com/okonev/vigil/internal/server"
	itls "github.com/okonev/vigil/internal/tls"
	"github.com/okonev/vigil/internal/watch"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ServiceState = watch.ServiceState

type State = watch.State

const (
	StateUnknown    = watch.StateUnknown
	StateRunning    = watch.StateRunning
	StateRestarting = watch.StateRestarting
	StateDown       = watch.StateDown
)

type AlertEvent = alert.Event

type AlertSeverity = alert.Severity

type AlertSink = alert.Sink

type BackupRecord = backup.Record

type Config = config.FileConfig

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Daemon bundles everything built from one config file: the watchers, the
// backup jobs with their scheduler, the alert sinks and the optional HTTP
// API and metrics listeners.
type Daemon struct {
	logger   *slog.Logger
	logClose io.Closer
	closers  []io.Closer

	em    *alert.Emitter
	mgr   *watch.Manager
	jobs  []*backup.Job
	sched *schedule.Scheduler

	api     *http.Server
	metrics *http.Server
}

// NewDaemon assembles a Daemon from cfg. Nothing is started yet; call Start.
func NewDaemon(cfg *Config) (*Daemon, error) {
	d := &Daemon{mgr: watch.NewManager()}

	var lc logger.Config
	if cfg.Log != nil {
		lc = logger.Config{
			Path:       cfg.Log.Path,
			Level:      cfg.Log.Level,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	d.logger, d.logClose = logger.New(lc)

	sink, err := d.buildSinks(cfg)
	if err != nil {
		_ = d.closeAll()
		return nil, err
	}
	d.em = alert.NewEmitter(sink, d.logger)

	for _, sc := range cfg.Services {
		w, err := buildWatcher(sc, d.em, d.logger)
		if err != nil {
			_ = d.closeAll()
			return nil, fmt.Errorf("service %s: %w", sc.Name, err)
		}
		if err := d.mgr.Register(w); err != nil {
			_ = d.closeAll()
			return nil, err
		}
	}

	d.sched = schedule.New(func(name string, err error) {
		d.logger.Error("scheduled task failed", "task", name, "error", err)
	})
	for _, bc := range cfg.Backups {
		job, err := backup.NewJob(bc.BackupJobConfig(), d.em, d.logger)
		if err != nil {
			_ = d.closeAll()
			return nil, fmt.Errorf("backup %s: %w", bc.Name, err)
		}
		task := &schedule.Task{
			Name:     job.Name(),
			Schedule: fmt.Sprintf("@every %ds", int(bc.Interval()/time.Second)),
			Jitter:   bc.Jitter(),
			Run:      job.Run,
		}
		if err := d.sched.Add(task); err != nil {
			_ = d.closeAll()
			return nil, err
		}
		d.jobs = append(d.jobs, job)
	}

	if cfg.Server != nil && cfg.Server.Listen != "" {
		srv, err := iapi.NewServer(cfg.Server.Listen, cfg.Server.BasePath, d.mgr, d.jobs, d.sched, d.eventsReader())
		if err != nil {
			_ = d.closeAll()
			return nil, err
		}
		tlsCfg, err := itls.Setup(cfg.Server.TLS)
		if err != nil {
			_ = d.closeAll()
			return nil, err
		}
		srv.TLSConfig = tlsCfg
		d.api = srv
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		addr := cfg.Metrics.Listen
		if addr == "" {
			addr = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.metrics = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	return d, nil
}

func (d *Daemon) buildSinks(cfg *Config) (alert.Sink, error) {
	if cfg.Alert == nil || len(cfg.Alert.DSNs) == 0 {
		return nil, nil
	}
	var multi alert.Multi
	for _, dsn := range cfg.Alert.DSNs {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("alert sink %q: %w", dsn, err)
		}
		if c, ok := s.(io.Closer); ok {
			d.closers = append(d.closers, c)
		}
		multi = append(multi, s)
	}
	if len(multi) == 1 {
		return multi[0], nil
	}
	return multi, nil
}

// eventsReader returns the first sink that supports recent-event queries
// (the SQLite sink), or nil when none is configured.
func (d *Daemon) eventsReader() iapi.EventsReader {
	for _, c := range d.closers {
		if r, ok := c.(iapi.EventsReader); ok {
			return r
		}
	}
	return nil
}

func buildWatcher(sc config.ServiceConfig, em *alert.Emitter, logger *slog.Logger) (*watch.Watcher, error) {
	var pr probe.Probe
	if sc.Probe != nil {
		switch sc.Probe.Type {
		case "pidfile":
			pr = probe.PIDFileProbe{Path: sc.Probe.Path}
		case "pid":
			pr = probe.PIDProbe{Pid: sc.Probe.PID}
		case "command":
			pr = probe.CommandProbe{Command: sc.Probe.Command}
		default:
			return nil, fmt.Errorf("unknown probe type %q", sc.Probe.Type)
		}
	}

	var ctrl control.Controller
	switch sc.Controller {
	case "", "systemd":
		ctrl = control.Systemd{Unit: sc.Unit, UserMode: sc.UserMode}
	case "exec":
		ctrl = control.Exec{
			StartCommand:   sc.StartCommand,
			StopCommand:    sc.StopCommand,
			RestartCommand: sc.RestartCommand,
			StatusCommand:  sc.StatusCommand,
			StatusProbe:    pr,
		}
	default:
		return nil, fmt.Errorf("unknown controller %q", sc.Controller)
	}

	// A PID-carrying probe also feeds the memory usage gauge.
	pids, _ := pr.(probe.PIDSource)
	return watch.New(sc.WatchConfig(), ctrl, pids, em, logger)
}

// Logger exposes the daemon's logger for command-layer reuse.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Manager exposes the watcher manager.
func (d *Daemon) Manager() *watch.Manager { return d.mgr }

// Jobs lists the configured backup jobs.
func (d *Daemon) Jobs() []*backup.Job { return d.jobs }

// Start launches the watchers, the backup scheduler and the configured
// listeners. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	if err := metrics.RegisterDefault(); err != nil {
		return err
	}
	d.mgr.Start(ctx)
	if err := d.sched.Start(ctx); err != nil {
		d.mgr.Stop()
		return err
	}
	if d.api != nil {
		go d.serve(d.api, "api")
	}
	if d.metrics != nil {
		go d.serve(d.metrics, "metrics")
	}
	return nil
}

func (d *Daemon) serve(srv *http.Server, name string) {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.logger.Error("listener stopped", "listener", name, "error", err)
	}
}

// Stop shuts everything down in reverse order of Start. In-flight backup
// runs are allowed to finish.
func (d *Daemon) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if d.api != nil {
		_ = d.api.Shutdown(ctx)
	}
	if d.metrics != nil {
		_ = d.metrics.Shutdown(ctx)
	}
	d.sched.Stop()
	d.mgr.Stop()
	return d.closeAll()
}

func (d *Daemon) closeAll() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	if d.logClose != nil {
		if err := d.logClose.Close(); err != nil && first == nil {
			first = err
		}
		d.logClose = nil
	}
	return first
}
