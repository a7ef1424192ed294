// Package daemon runs the instsync background process: it owns the task
// registry, ingests deployment batches dropped into the intake directory,
// fills in tasks for uncovered identities on a timer and serves CLI requests over
// a Unix socket.
package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/events"
	"github.com/msageha/instsync/internal/instancesync"
	"github.com/msageha/instsync/internal/lock"
	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/registry/sqlite"
	"github.com/msageha/instsync/internal/setup"
	"github.com/msageha/instsync/internal/uds"
)

const (
	defaultScanIntervalSec    = 60
	defaultShutdownTimeoutSec = 30
	defaultWorkers            = 4
	defaultDSN                = "registry.db"
	defaultAuditPath          = "logs/audit.jsonl"
	eventBufferSize           = 256
)

type Daemon struct {
	dataDir  string
	config   model.Config
	logLevel model.LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	db          *sql.DB
	catalog     *catalog.Catalog
	bus         *events.Bus
	audit       *events.AuditLogger
	detachAudit func()
	service     *instancesync.Service

	// keyed by mapping for bootstrap runs and by path for intake files
	flight singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	done     chan struct{}
}

// New creates a daemon logging to <dataDir>/logs/daemon.log.
func New(dataDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dataDir, setup.LogsDir, "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(dataDir, cfg, logFile, logFile)
}

func newDaemon(dataDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	server := uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName))
	logger := log.New(w, "", 0)
	server.SetLogger(logger)

	return &Daemon{
		dataDir:  dataDir,
		config:   cfg,
		logLevel: model.ParseLogLevel(cfg.Logging.Level),
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(dataDir, setup.DaemonLockFile)),
		server:   server,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Run starts the daemon and blocks until it has shut down.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

func (d *Daemon) start() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, setup.LocksDir), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(model.LogLevelInfo, "daemon starting pid=%d data_dir=%s", os.Getpid(), d.dataDir)

	if err := d.openStores(); err != nil {
		d.cleanup()
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	intakeDir := filepath.Join(d.dataDir, setup.DeploymentsDir)
	for _, dir := range []string{intakeDir, filepath.Join(d.dataDir, setup.ProcessedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	if err := watcher.Add(intakeDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", intakeDir, err)
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(model.LogLevelInfo, "UDS server listening on %s", d.server.SocketPath())

	scanInterval := d.config.Reconcile.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = defaultScanIntervalSec
	}
	d.ticker = time.NewTicker(time.Duration(scanInterval) * time.Second)

	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Batches dropped while the daemon was down have no fsnotify event.
	d.drainIntake(d.ctx)
	if _, err := d.Scan(d.ctx); err != nil {
		d.log(model.LogLevelWarn, "initial scan error=%v", err)
	}
	d.log(model.LogLevelInfo, "daemon ready")
	return nil
}

// openStores opens the registry, repairs the catalog and wires the service
// and audit log.
func (d *Daemon) openStores() error {
	dsn := resolveDSN(d.dataDir, d.config.Registry.DSN)
	db, err := sqlite.Open(dsn)
	if err != nil {
		return fmt.Errorf("open registry %s: %w", dsn, err)
	}
	d.db = db

	d.catalog = catalog.New(d.dataDir)
	repaired, err := d.catalog.Repair()
	if err != nil {
		return fmt.Errorf("repair catalog: %w", err)
	}
	for _, name := range repaired {
		d.log(model.LogLevelWarn, "catalog file=%s was corrupt and has been recovered", name)
	}

	d.bus = events.NewBus(eventBufferSize)
	if d.config.Audit.Enabled {
		path := d.config.Audit.Path
		if path == "" {
			path = defaultAuditPath
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.dataDir, path)
		}
		audit, err := events.NewAuditLogger(path, int64(d.config.Audit.MaxSizeMB)*1024*1024)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		audit.EnableChecksum(d.config.Audit.ChecksumOn)
		d.audit = audit
		d.detachAudit = audit.Attach(d.bus, func(err error) {
			d.log(model.LogLevelError, "audit write error=%v", err)
		})
	}

	svc, err := instancesync.New(instancesync.Options{
		Registry: &sqlite.Registry{DB: db},
		Catalog:  d.catalog,
		Bus:      d.bus,
		Schedule: d.config.TaskSchedule(),
		Policy:   d.config.LookupPolicy(),
		Logger:   d.logger,
		LogLevel: d.logLevel,
	})
	if err != nil {
		return err
	}
	d.service = svc
	return nil
}

// resolveDSN places relative database paths inside the data directory.
func resolveDSN(dataDir, dsn string) string {
	switch {
	case dsn == "":
		return filepath.Join(dataDir, defaultDSN)
	case dsn == ":memory:", strings.HasPrefix(dsn, "file:"), filepath.IsAbs(dsn):
		return dsn
	default:
		return filepath.Join(dataDir, dsn)
	}
}

func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.HandleFileEvent(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop retries pending intake files and rescans the catalog.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(model.LogLevelDebug, "periodic scan triggered")
			d.drainIntake(d.ctx)
			if _, err := d.Scan(d.ctx); err != nil && d.ctx.Err() == nil {
				d.log(model.LogLevelWarn, "periodic scan error=%v", err)
			}
		}
	}
}

// waitSignals blocks until a shutdown signal arrives or a shutdown was
// requested over the socket.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(model.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
	case <-d.done:
		return
	}

	go func() {
		select {
		case <-sigCh:
			d.log(model.LogLevelWarn, "received second signal, forcing exit")
			os.Exit(1)
		case <-d.done:
		}
	}()

	d.Shutdown()
}

// Done is closed once shutdown has completed.
func (d *Daemon) Done() <-chan struct{} { return d.done }

// Shutdown stops intake, the socket server and background loops, then
// closes the stores. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(model.LogLevelInfo, "shutdown started")

		d.cancel()

		if d.ticker != nil {
			d.ticker.Stop()
		}
		if d.watcher != nil {
			d.watcher.Close()
		}
		d.server.Stop()

		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = defaultShutdownTimeoutSec
		}

		drained := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			d.log(model.LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(model.LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		d.cleanup()
		d.log(model.LogLevelInfo, "daemon stopped")
		if d.logFile != nil {
			d.logFile.Close()
		}
		close(d.done)
	})
}

// cleanup releases whatever start managed to acquire.
func (d *Daemon) cleanup() {
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.detachAudit != nil {
		d.detachAudit()
	}
	if d.bus != nil {
		d.bus.Close()
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			d.log(model.LogLevelWarn, "close audit log error=%v", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log(model.LogLevelWarn, "close registry error=%v", err)
		}
	}
	d.fileLock.Unlock()
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
