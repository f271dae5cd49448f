// Package trigger also hosts the daemon that generates sync triggers while
// the process stays resident.
//
// The daemon:
//  1. Triggers a sync on start, once the store is ready
//  2. Watches the spool directory for draft expense files and enqueues them
//  3. Triggers a sync after every successful enqueue
//  4. Re-triggers on a fixed interval (the stand-in for app foregrounding)
package trigger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fieldops/expenseq/internal/model"
	"github.com/fieldops/expenseq/internal/store"
	"github.com/fsnotify/fsnotify"
)

// DaemonConfig holds configuration for the daemon.
type DaemonConfig struct {
	// SyncInterval is how often to trigger a sync regardless of activity.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before processing spool file
	// changes. This batches rapid writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the spool directory and feeds the trigger policy.
type Daemon struct {
	store    *store.Store
	policy   *Policy
	spoolDir string
	config   *DaemonConfig

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon creates a daemon enqueuing drafts from spoolDir into st and
// triggering syncs through policy.
func NewDaemon(st *store.Store, policy *Policy, spoolDir string, config *DaemonConfig) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if policy == nil {
		return nil, fmt.Errorf("policy cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultDaemonConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		policy:      policy,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	// Drain anything spooled while the daemon was down, then trigger the
	// process-start sync.
	if err := d.drainSpool(); err != nil {
		return fmt.Errorf("initial spool drain failed: %w", err)
	}
	d.triggerSync("startup")

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	d.config.Logger.Printf("Watching spool: %s", d.spoolDir)

	d.wg.Add(3)
	go d.watchSpoolEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// drainSpool enqueues every draft file already sitting in the spool.
func (d *Daemon) drainSpool() error {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.spoolDir, entry.Name())
		if err := d.enqueueSpoolFile(path); err != nil {
			d.config.Logger.Printf("WARNING: failed to enqueue %s: %v", entry.Name(), err)
		}
	}

	return nil
}

// watchSpoolEvents monitors filesystem events and queues changes.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write; deletions are our own
			// archiving.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued spool files with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges enqueues spool files that have settled long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()

	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}

	enqueued := false
	for _, path := range ready {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // already archived or removed
		}
		if err := d.enqueueSpoolFile(path); err != nil {
			d.config.Logger.Printf("Error enqueuing %s: %v", path, err)
			continue
		}
		enqueued = true
	}

	// Post-insert trigger: skipped by the policy if a sync is in flight.
	if enqueued {
		d.triggerSync("spool")
	}
}

// enqueueSpoolFile reads one draft file, inserts it into the queue and
// archives the file. A duplicate uniqueId still archives: the queue already
// has the row, the spool copy is redundant.
func (d *Daemon) enqueueSpoolFile(path string) error {
	exp, err := model.ReadExpenseFile(path)
	if err != nil {
		return err
	}

	inserted, err := d.store.InsertMany(d.ctx, []*model.Expense{exp})
	if err != nil {
		return fmt.Errorf("failed to enqueue expense %s: %w", exp.UniqueID, err)
	}

	if len(inserted) > 0 {
		d.config.Logger.Printf("Enqueued expense %s (row %d)", exp.UniqueID, inserted[0].ID)
	} else {
		d.config.Logger.Printf("Expense %s already queued, archiving spool file", exp.UniqueID)
	}

	return d.archiveSpoolFile(path)
}

// archiveSpoolFile moves a processed draft into spool/processed/.
func (d *Daemon) archiveSpoolFile(path string) error {
	archiveDir := filepath.Join(d.spoolDir, "processed")
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	dest := filepath.Join(archiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to archive spool file: %w", err)
	}
	return nil
}

// periodicSync triggers a sync on a fixed interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.triggerSync("interval")
		}
	}
}

// triggerSync invokes the policy and logs the outcome. Errors are logged,
// not fatal: the pending rows are untouched and a later trigger retries.
func (d *Daemon) triggerSync(reason string) {
	res, ran, err := d.policy.TriggerSync(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Sync (%s) failed: %v", reason, err)
		return
	}
	if !ran {
		return
	}
	if res.Submitted > 0 {
		d.config.Logger.Printf("Sync (%s): submitted=%d synced=%d failed=%d",
			reason, res.Submitted, res.Synced, res.Failed)
	}
}
