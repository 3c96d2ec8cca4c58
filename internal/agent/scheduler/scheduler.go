// Package scheduler drives one end-to-end backup run: it gates on
// connectivity, locates the server, walks the enabled sources through
// their calendar-month windows and transfers each missing file, persisting
// progress before every attempt.
//
// The run is a state machine:
//
//	Idle → CheckingConnectivity → Discovering → VerifyingConnection →
//	Transferring → {Completed | Interrupted | Failed}
//
// Everything that can go wrong mid-run is converted into either a counted
// per-file failure or an Interrupted outcome; the scheduler itself never
// panics and never returns transport errors to its caller.
package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/photosync/internal/agent/checkpoint"
	"github.com/dmitrijs2005/photosync/internal/agent/config"
	"github.com/dmitrijs2005/photosync/internal/agent/connectivity"
	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/agent/ledger"
	"github.com/dmitrijs2005/photosync/internal/agent/transfer"
	"github.com/dmitrijs2005/photosync/internal/hashx"
	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/media"
)

// MaxFailures is the per-run failure cap: the run aborts once the failure
// count exceeds it, bounding wasted work against a flaky server.
const MaxFailures = 10

// State of a sync run.
type State string

const (
	StateIdle                 State = "idle"
	StateCheckingConnectivity State = "checking_connectivity"
	StateDiscovering          State = "discovering"
	StateVerifyingConnection  State = "verifying_connection"
	StateTransferring         State = "transferring"
	StateCompleted            State = "completed"
	StateInterrupted          State = "interrupted"
	StateFailed               State = "failed"
)

// Counts is the explicit accumulator threaded through the nested
// source/window/file loops.
type Counts struct {
	Uploaded int
	Skipped  int
	Failed   int
}

// Outcome is the terminal result of one run. Retryable outcomes should be
// re-attempted by an external trigger; the scheduler itself never loops.
type Outcome struct {
	State     State
	Reason    string
	Retryable bool
	Counts    Counts
}

// Progress is an incremental event emitted while Transferring.
type Progress struct {
	Window        string
	TotalWindows  int
	CurrentFile   string
	FileIndex     int
	FilesInWindow int
	Counts        Counts
}

// Uploader is the slice of the transfer client the scheduler depends on.
type Uploader interface {
	HealthCheck(ctx context.Context) bool
	CheckExisting(ctx context.Context, hashes []string) map[string]struct{}
	Upload(ctx context.Context, item media.Item, hash string, r io.Reader) transfer.UploadResult
}

// Discoverer resolves a server instance (see discovery.Client).
type Discoverer interface {
	Discover(ctx context.Context, expectedID string) (*discovery.ServerInfo, error)
	Verify(host string, port int) *discovery.ServerInfo
}

// ClientFactory binds a transfer client to a resolved server for the
// duration of one run.
type ClientFactory func(info *discovery.ServerInfo, apiKey string) Uploader

// Scheduler owns no goroutines; Run executes synchronously and the caller
// decides how triggers arrive.
type Scheduler struct {
	cfg        *config.Config
	ledger     ledger.Repository
	progress   *checkpoint.Store
	scanner    media.Scanner
	detector   connectivity.Detector
	discoverer Discoverer
	newClient  ClientFactory
	logger     logging.Logger

	// OnProgress, when set, receives incremental transfer events.
	OnProgress func(Progress)

	// Now is the clock; tests override it.
	Now func() time.Time

	maxFailures int
	running     atomic.Bool
	state       atomic.Value // State
}

func New(
	cfg *config.Config,
	lg ledger.Repository,
	progress *checkpoint.Store,
	scanner media.Scanner,
	detector connectivity.Detector,
	discoverer Discoverer,
	newClient ClientFactory,
	logger logging.Logger,
) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		ledger:      lg,
		progress:    progress,
		scanner:     scanner,
		detector:    detector,
		discoverer:  discoverer,
		newClient:   newClient,
		logger:      logger.With("module", "scheduler"),
		Now:         time.Now,
		maxFailures: MaxFailures,
	}
	s.state.Store(StateIdle)
	return s
}

// State returns the current run state for observers (UI, diagnostics).
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(ctx context.Context, st State) {
	s.state.Store(st)
	s.logger.Debug(ctx, "state transition", "state", st)
}

// Run executes one synchronization attempt. At most one run may be in
// flight; a trigger arriving while one is active is dropped, not queued.
func (s *Scheduler) Run(ctx context.Context, reason string) Outcome {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "trigger dropped, run already active", "reason", reason)
		return Outcome{State: StateIdle, Reason: "another run is active"}
	}
	defer func() {
		s.running.Store(false)
	}()

	s.logger.Info(ctx, "sync run triggered", "reason", reason)

	// Missing credential is fatal: no amount of waiting fixes it.
	if s.cfg.APIKey == "" {
		_ = s.progress.Clear(ctx)
		s.setState(ctx, StateFailed)
		return Outcome{State: StateFailed, Reason: "missing API key"}
	}

	// 1. Connectivity gate.
	s.setState(ctx, StateCheckingConnectivity)
	network, err := s.detector.CurrentNetwork(ctx)
	if err != nil || !s.networkAllowed(network) {
		s.setState(ctx, StateInterrupted)
		return Outcome{State: StateInterrupted, Reason: "not on an allowed network", Retryable: true}
	}

	// 2. Resolve the server: manual address wins, otherwise discover.
	s.setState(ctx, StateDiscovering)
	var info *discovery.ServerInfo
	if s.cfg.ManualServerHost != "" {
		port := s.cfg.ManualServerPort
		if port == 0 {
			port = 9121
		}
		info = s.discoverer.Verify(s.cfg.ManualServerHost, port)
	} else {
		info, err = s.discoverer.Discover(ctx, s.cfg.ServerID)
		if err != nil {
			s.setState(ctx, StateInterrupted)
			return Outcome{State: StateInterrupted, Reason: "discovery failed", Retryable: true}
		}
	}
	if info == nil {
		s.setState(ctx, StateInterrupted)
		return Outcome{State: StateInterrupted, Reason: "server not found", Retryable: true}
	}

	// 3. Health probe.
	s.setState(ctx, StateVerifyingConnection)
	client := s.newClient(info, s.cfg.APIKey)
	if !client.HealthCheck(ctx) {
		s.setState(ctx, StateInterrupted)
		return Outcome{State: StateInterrupted, Reason: "server unreachable", Retryable: true}
	}

	s.setState(ctx, StateTransferring)
	outcome := s.transfer(ctx, client)
	s.setState(ctx, outcome.State)
	return outcome
}

// networkAllowed implements the gate: home networks always pass; an empty
// home list means any network passes; anything else passes only when
// unknown networks are explicitly allowed and a manual server is set.
func (s *Scheduler) networkAllowed(network string) bool {
	if network == "" {
		return false
	}
	if len(s.cfg.HomeNetworks) == 0 {
		return true
	}
	for _, n := range s.cfg.HomeNetworks {
		if n == network {
			return true
		}
	}
	return s.cfg.AllowUnknownNetwork && s.cfg.ManualServerHost != ""
}

type pendingItem struct {
	item media.Item
	hash string
}

// transfer walks sources in source-major order: a source's full backward
// month history is processed before the next source starts.
func (s *Scheduler) transfer(ctx context.Context, client Uploader) Outcome {
	counts := Counts{}
	now := s.Now()

	// Build the full window plan up front so checkpoints can report the
	// run-wide total.
	type sourceWindows struct {
		source  media.Source
		windows []media.Window
	}
	var plan []sourceWindows
	totalWindows := 0
	for _, src := range s.cfg.EnabledSources() {
		oldest, ok, err := s.scanner.OldestItem(ctx, src)
		if err != nil {
			s.logger.Warn(ctx, "source scan failed, skipping", "source", src, "error", err)
			continue
		}
		if !ok {
			continue
		}
		windows := media.WindowsBack(now, oldest)
		plan = append(plan, sourceWindows{source: src, windows: windows})
		totalWindows += len(windows)
	}

	for _, sw := range plan {
		for _, window := range sw.windows {
			outcome, done := s.transferWindow(ctx, client, sw.source, window, totalWindows, &counts)
			if done {
				return outcome
			}
		}
	}

	if err := s.progress.Clear(ctx); err != nil {
		s.logger.Warn(ctx, "failed to clear checkpoint", "error", err)
	}
	s.logger.Info(ctx, "sync run completed",
		"uploaded", counts.Uploaded, "skipped", counts.Skipped, "failed", counts.Failed)
	return Outcome{State: StateCompleted, Counts: counts}
}

// transferWindow processes one source×month window. done is true when the
// run must stop with the returned outcome.
func (s *Scheduler) transferWindow(
	ctx context.Context,
	client Uploader,
	source media.Source,
	window media.Window,
	totalWindows int,
	counts *Counts,
) (Outcome, bool) {
	items, err := s.scanner.ListCandidates(ctx, source, window)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{State: StateInterrupted, Reason: "cancelled", Counts: *counts}, true
		}
		s.logger.Warn(ctx, "window enumeration failed",
			"source", source, "window", window.Label(), "error", err)
		return Outcome{}, false
	}

	// Subtract items the ledger already knows by native id, then hash the
	// remainder once so the batch existence check can run before uploads.
	var pendings []pendingItem
	var hashes []string
	for _, item := range items {
		if ctx.Err() != nil {
			return Outcome{State: StateInterrupted, Reason: "cancelled", Counts: *counts}, true
		}
		done, err := s.ledger.IsCompletedNativeID(ctx, item.NativeID)
		if err != nil {
			s.logger.Warn(ctx, "ledger lookup failed", "native_id", item.NativeID, "error", err)
		}
		if done {
			continue
		}
		hash, err := s.hashItem(item)
		if err != nil {
			s.logger.Warn(ctx, "hashing failed", "native_id", item.NativeID, "error", err)
			counts.Failed++
			if counts.Failed > s.maxFailures {
				return Outcome{State: StateInterrupted, Reason: "too many failures", Counts: *counts}, true
			}
			continue
		}
		pendings = append(pendings, pendingItem{item: item, hash: hash})
		hashes = append(hashes, hash)
	}

	// Advisory only: on error this is empty and the server dedups instead.
	existing := client.CheckExisting(ctx, hashes)

	for i, p := range pendings {
		if ctx.Err() != nil {
			return Outcome{State: StateInterrupted, Reason: "cancelled", Counts: *counts}, true
		}

		// A lost connection aborts the current window immediately. The
		// checkpoint is kept: a later run restarts from the top and the
		// ledger re-skips everything already done.
		network, err := s.detector.CurrentNetwork(ctx)
		if err != nil || !s.networkAllowed(network) {
			s.logger.Warn(ctx, "connection lost mid-window",
				"source", source, "window", window.Label())
			return Outcome{State: StateInterrupted, Reason: "connection lost", Retryable: true, Counts: *counts}, true
		}

		cp := &checkpoint.Checkpoint{
			Window:        window.Label(),
			TotalWindows:  totalWindows,
			CurrentFile:   p.item.Name,
			FileIndex:     i + 1,
			FilesInWindow: len(pendings),
			Uploaded:      counts.Uploaded,
			Skipped:       counts.Skipped,
			Failed:        counts.Failed,
		}
		if err := s.progress.Save(ctx, cp); err != nil {
			s.logger.Warn(ctx, "failed to persist checkpoint", "error", err)
		}

		s.transferFile(ctx, client, p, existing, counts)

		if s.OnProgress != nil {
			s.OnProgress(Progress{
				Window:        window.Label(),
				TotalWindows:  totalWindows,
				CurrentFile:   p.item.Name,
				FileIndex:     i + 1,
				FilesInWindow: len(pendings),
				Counts:        *counts,
			})
		}

		if counts.Failed > s.maxFailures {
			s.logger.Warn(ctx, "failure cap exceeded, aborting run", "failed", counts.Failed)
			return Outcome{State: StateInterrupted, Reason: "too many failures", Counts: *counts}, true
		}
	}

	return Outcome{}, false
}

// transferFile classifies one file into uploaded/skipped/failed. Every
// internal error is absorbed into the counters; nothing propagates.
func (s *Scheduler) transferFile(
	ctx context.Context,
	client Uploader,
	p pendingItem,
	existing map[string]struct{},
	counts *Counts,
) {
	if _, ok := existing[p.hash]; ok {
		s.recordCompleted(ctx, p, "")
		counts.Skipped++
		return
	}
	if done, err := s.ledger.IsCompletedHash(ctx, p.hash); err == nil && done {
		counts.Skipped++
		return
	}

	rc, err := s.scanner.Open(p.item)
	if err != nil {
		s.logger.Warn(ctx, "open failed", "native_id", p.item.NativeID, "error", err)
		counts.Failed++
		return
	}
	res := client.Upload(ctx, p.item, p.hash, rc)
	_ = rc.Close()

	switch res.Status {
	case transfer.UploadSuccess:
		s.recordCompleted(ctx, p, res.Path)
		counts.Uploaded++
	case transfer.UploadAlreadyExists:
		s.recordCompleted(ctx, p, res.Path)
		counts.Skipped++
	default:
		s.logger.Warn(ctx, "upload failed",
			"native_id", p.item.NativeID, "reason", res.Reason)
		counts.Failed++
	}
}

func (s *Scheduler) recordCompleted(ctx context.Context, p pendingItem, storagePath string) {
	entry := &ledger.Entry{
		NativeID:    p.item.NativeID,
		ContentHash: p.hash,
		Size:        p.item.Size,
		MimeType:    p.item.MimeType,
		TakenAt:     p.item.TakenAt,
		ModifiedAt:  p.item.ModifiedAt,
		StoragePath: storagePath,
		Status:      ledger.StatusCompleted,
	}
	if err := s.ledger.RecordCompleted(ctx, entry); err != nil {
		s.logger.Error(ctx, "failed to record ledger entry",
			"native_id", p.item.NativeID, "error", err)
	}
}

func (s *Scheduler) hashItem(item media.Item) (string, error) {
	rc, err := s.scanner.Open(item)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return hashx.Sum(rc)
}
