// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package monitor advances tracked downloads through the remote, local and
// extraction phases.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/autobrr/gamedrop/internal/cache"
	"github.com/autobrr/gamedrop/internal/metrics"
	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/debrid"
	"github.com/autobrr/gamedrop/internal/services/extraction"
	"github.com/autobrr/gamedrop/internal/services/transfer"
)

const stuckNoticePrefix = "possibly stuck"

// Config controls the poll cadence. Zero values fall back to DefaultConfig.
type Config struct {
	TickInterval      time.Duration
	LocalInterval     time.Duration
	RemoteInterval    time.Duration
	CreatedInterval   time.Duration
	TransientInterval time.Duration
	PollTimeout       time.Duration
	CacheTTL          time.Duration

	MaxBatch int
	// MaxTransientFailures moves a record to error after that many
	// consecutive transient poll failures. Zero never gives up.
	MaxTransientFailures int
	StuckThreshold       time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	CacheSweepInterval time.Duration
	RetentionInterval  time.Duration
	Retention          time.Duration

	DownloadDir string
	InstallDir  string
}

// DefaultConfig returns the stock cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:         300 * time.Millisecond,
		LocalInterval:        500 * time.Millisecond,
		RemoteInterval:       2 * time.Second,
		CreatedInterval:      5 * time.Second,
		TransientInterval:    30 * time.Second,
		PollTimeout:          10 * time.Second,
		CacheTTL:             time.Second,
		MaxBatch:             15,
		StuckThreshold:       10 * time.Minute,
		BackoffInitial:       2 * time.Second,
		BackoffMax:           5 * time.Minute,
		BackoffFactor:        2,
		CacheSweepInterval:   30 * time.Second,
		RetentionInterval:    time.Hour,
		Retention:            7 * 24 * time.Hour,
	}
}

// Transfers is the part of transfer.Manager the monitor drives.
type Transfers interface {
	Start(ctx context.Context, url, destPath string) (string, error)
	PollStatus(id string) (transfer.Status, error)
	Cancel(id string)
	Forget(id string)
}

// Extractor is satisfied by *extraction.Engine.
type Extractor interface {
	Extract(ctx context.Context, job *extraction.Job, progress func(float64)) (string, error)
}

// Service owns the DownloadStore. Every mutation of a record after creation
// goes through it.
type Service struct {
	cfg       Config
	store     *models.DownloadStore
	resolver  debrid.Resolver
	transfers Transfers
	extractor Extractor
	cache     *cache.Cache[debrid.Status]
	emitter   *Emitter
	metrics   *metrics.Metrics
	log       zerolog.Logger

	now   func() time.Time
	spawn func(func())

	ctxMu   sync.RWMutex
	baseCtx context.Context

	// remoteSem and localSem bound concurrent refreshes per queue across
	// overlapping ticks.
	remoteSem *semaphore.Weighted
	localSem  *semaphore.Weighted

	mu      sync.Mutex
	states  map[string]*recordState
	wg      sync.WaitGroup
	batches sync.WaitGroup
}

// recordState is per-record scheduling state. mu serializes a refresh
// against user commands on the same record.
type recordState struct {
	mu sync.Mutex

	refreshing        bool
	lastRefresh       time.Time
	nextAt            time.Time
	backoff           *BackoffPolicy
	transientFailures int
	stuckSince        time.Time

	extracting    bool
	extractCancel context.CancelFunc
	extractDone   chan struct{}
	extractJob    *extraction.Job
}

// NewService wires the monitor. emitter and m may be nil.
func NewService(cfg Config, store *models.DownloadStore, resolver debrid.Resolver, transfers Transfers, extractor Extractor, emitter *Emitter, m *metrics.Metrics) *Service {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.LocalInterval <= 0 {
		cfg.LocalInterval = def.LocalInterval
	}
	if cfg.RemoteInterval <= 0 {
		cfg.RemoteInterval = def.RemoteInterval
	}
	if cfg.CreatedInterval <= 0 {
		cfg.CreatedInterval = def.CreatedInterval
	}
	if cfg.TransientInterval <= 0 {
		cfg.TransientInterval = def.TransientInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.MaxTransientFailures < 0 {
		cfg.MaxTransientFailures = 0
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = def.StuckThreshold
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.CacheSweepInterval <= 0 {
		cfg.CacheSweepInterval = def.CacheSweepInterval
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = def.RetentionInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if emitter == nil {
		emitter = NewEmitter()
	}

	svc := &Service{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		transfers: transfers,
		extractor: extractor,
		cache:     cache.New[debrid.Status](cfg.CacheTTL),
		emitter:   emitter,
		metrics:   m,
		log:       log.Logger.With().Str("module", "monitor").Logger(),
		baseCtx:   context.Background(),
		remoteSem: semaphore.NewWeighted(int64(cfg.MaxBatch)),
		localSem:  semaphore.NewWeighted(int64(cfg.MaxBatch)),
		states:    make(map[string]*recordState),
	}
	svc.now = time.Now
	svc.spawn = func(fn func()) { go fn() }
	return svc
}

func (s *Service) Emitter() *Emitter {
	return s.emitter
}

func (s *Service) Store() *models.DownloadStore {
	return s.store
}

// Start launches the poll loop. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.setBaseContext(ctx)
	go s.loop(ctx)
}

// Wait blocks until every refresh batch and extraction goroutine has exited.
func (s *Service) Wait() {
	s.batches.Wait()
	s.wg.Wait()
}

func (s *Service) setBaseContext(ctx context.Context) {
	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()
}

func (s *Service) baseContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.baseCtx
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(s.cfg.CacheSweepInterval)
	defer sweep.Stop()
	retention := time.NewTicker(s.cfg.RetentionInterval)
	defer retention.Stop()

	defer func() {
		s.batches.Wait()
		s.cache.Close()
	}()

	s.log.Info().Dur("tick", s.cfg.TickInterval).Int("max_batch", s.cfg.MaxBatch).Msg("Monitor started")

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("Monitor stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-sweep.C:
			if n := s.cache.Sweep(); n > 0 {
				s.log.Trace().Int("evicted", n).Msg("Swept response cache")
			}
		case <-retention.C:
			s.cleanupRetention(ctx)
		}
	}
}

// Add stores a newly created record and announces it.
func (s *Service) Add(ctx context.Context, rec *models.DownloadRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("download record requires an id")
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return err
	}
	s.metrics.ObserveTransition(string(rec.Status))
	s.emitter.Publish(Update{RecordID: rec.ID, Fields: []string{"*"}, Record: rec.Clone()})
	s.log.Info().Str("record_id", rec.ID).Str("title", rec.Title).Msg("Tracking download")
	return nil
}

func (s *Service) state(id string) *recordState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = &recordState{backoff: NewBackoffPolicy(s.cfg.BackoffInitial, s.cfg.BackoffMax, s.cfg.BackoffFactor)}
		s.states[id] = st
	}
	return st
}

func (s *Service) dropState(id string) {
	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
}

func (s *Service) interval(rec *models.DownloadRecord, st *recordState) time.Duration {
	if st.transientFailures > 0 {
		return s.cfg.TransientInterval
	}
	switch rec.Status.Phase() {
	case models.PhaseIdle:
		return s.cfg.CreatedInterval
	case models.PhaseLocal, models.PhaseExtract:
		return s.cfg.LocalInterval
	default:
		return s.cfg.RemoteInterval
	}
}

func (st *recordState) due(now time.Time, interval time.Duration) bool {
	if now.Before(st.nextAt) {
		return false
	}
	if st.lastRefresh.IsZero() {
		return true
	}
	return !st.lastRefresh.Add(interval).After(now)
}

type pending struct {
	id string
	st *recordState
}

// tick dispatches every due record and returns at once. The returned channel
// closes when the dispatched refreshes are done. A record still refreshing
// from an earlier tick is skipped.
func (s *Service) tick(ctx context.Context) <-chan struct{} {
	now := s.now()

	var remote, local []pending
	for _, rec := range s.store.ListActive() {
		st := s.state(rec.ID)
		// Records held by a command are picked up on a later tick.
		if !st.mu.TryLock() {
			continue
		}
		ready := !st.refreshing && !st.extracting && st.due(now, s.interval(rec, st))
		if ready {
			st.refreshing = true
		}
		st.mu.Unlock()
		if !ready {
			continue
		}
		switch rec.Status.Phase() {
		case models.PhaseLocal, models.PhaseExtract:
			local = append(local, pending{id: rec.ID, st: st})
		default:
			remote = append(remote, pending{id: rec.ID, st: st})
		}
	}

	done := make(chan struct{})
	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		defer close(done)
		if len(remote)+len(local) > 0 {
			var g errgroup.Group
			g.Go(func() error { s.runBatch(ctx, s.remoteSem, remote); return nil })
			g.Go(func() error { s.runBatch(ctx, s.localSem, local); return nil })
			_ = g.Wait()
		}
		s.publishStatusCounts()
	}()
	return done
}

func (s *Service) runBatch(ctx context.Context, sem *semaphore.Weighted, batch []pending) {
	var wg sync.WaitGroup
	for i, p := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, rest := range batch[i:] {
				rest.st.mu.Lock()
				rest.st.refreshing = false
				rest.st.mu.Unlock()
			}
			break
		}
		wg.Add(1)
		go func(p pending) {
			defer wg.Done()
			defer sem.Release(1)
			s.refresh(ctx, p.st, p.id)
		}(p)
	}
	wg.Wait()
}

func (s *Service) publishStatusCounts() {
	if s.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for status, n := range s.store.CountByStatus() {
		counts[string(status)] = n
	}
	s.metrics.SetStatusCounts(counts)
}

// commit saves rec when it differs from prev and emits the change.
func (s *Service) commit(ctx context.Context, prev, rec *models.DownloadRecord) error {
	fields := rec.ChangedFields(prev)
	if len(fields) == 0 {
		return nil
	}
	rec.UpdatedAt = s.now()
	if err := s.store.Save(ctx, rec); err != nil {
		return err
	}
	if prev == nil || prev.Status != rec.Status {
		s.metrics.ObserveTransition(string(rec.Status))
		s.log.Debug().Str("record_id", rec.ID).Str("status", string(rec.Status)).Msg("Download transitioned")
	}
	s.emitter.Publish(Update{RecordID: rec.ID, Fields: fields, Record: rec.Clone()})
	return nil
}

func (s *Service) refresh(ctx context.Context, st *recordState, id string) {
	st.mu.Lock()
	defer func() {
		st.refreshing = false
		st.mu.Unlock()
	}()

	rec, err := s.store.Get(id)
	if err != nil || rec.Status.IsTerminal() {
		return
	}
	st.lastRefresh = s.now()

	var stepErr error
	switch rec.Status {
	case models.StatusCreated, models.StatusResolvingRemote, models.StatusRemoteTransferring, models.StatusRemoteReady:
		stepErr = s.refreshRemote(ctx, st, rec)
	case models.StatusLocalTransferring:
		stepErr = s.refreshTransfer(ctx, st, rec)
	case models.StatusLocalTransferComplete, models.StatusExtracting:
		stepErr = s.startExtraction(ctx, st, rec)
	case models.StatusExtractionComplete:
		stepErr = s.finishInstall(ctx, rec)
	}
	if stepErr != nil {
		s.log.Error().Err(stepErr).Str("record_id", id).Str("status", string(rec.Status)).Msg("Download refresh failed")
	}
}

func (s *Service) pollRemote(ctx context.Context, id string) (debrid.Status, error) {
	st, _, err := s.cache.Do("debrid:"+id, func() (debrid.Status, error) {
		pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
		defer cancel()
		return s.resolver.PollStatus(pollCtx, id)
	})
	return st, err
}

// pollUnlocked polls the remote for rec with st.mu released, so commands on
// the record never wait on the network. It returns the record as re-read
// after the poll, or nil when it was removed or changed status meanwhile.
// Callers hold st.mu.
func (s *Service) pollUnlocked(ctx context.Context, st *recordState, rec *models.DownloadRecord) (debrid.Status, *models.DownloadRecord, error) {
	id, remoteID, status := rec.ID, rec.RemoteResolutionID, rec.Status

	st.mu.Unlock()
	res, err := s.pollRemote(ctx, remoteID)
	st.mu.Lock()

	fresh, getErr := s.store.Get(id)
	if getErr != nil || fresh.Status != status {
		return debrid.Status{}, nil, nil
	}
	return res, fresh, err
}

func (s *Service) refreshRemote(ctx context.Context, st *recordState, rec *models.DownloadRecord) error {
	prev := rec.Clone()
	now := s.now()

	if rec.RemoteResolutionID == "" {
		return s.fail(ctx, st, prev, rec, "no remote resolution id")
	}
	if rec.Status == models.StatusCreated {
		if err := rec.Transition(models.StatusResolvingRemote, now); err != nil {
			return err
		}
		if err := s.commit(ctx, prev, rec); err != nil {
			return err
		}
	}

	status, fresh, err := s.pollUnlocked(ctx, st, rec)
	if fresh == nil {
		return nil
	}
	rec, prev, now = fresh, fresh.Clone(), s.now()
	if err != nil {
		return s.handleRemoteError(ctx, st, prev, rec, err)
	}
	st.backoff.Reset()
	st.nextAt = time.Time{}
	st.transientFailures = 0

	switch status.Phase {
	case debrid.PhaseFailed:
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("remote resolution failed: %s", status.RemoteStatus))

	case debrid.PhaseTransferring:
		if err := rec.Transition(models.StatusRemoteTransferring, now); err != nil {
			return err
		}
		rec.SetProgress(status.Progress)
		rec.TotalBytes = status.Bytes
		rec.TransferSpeed = status.Speed
		s.checkStuck(st, rec, now)
		return s.commit(ctx, prev, rec)

	case debrid.PhaseReady:
		if err := rec.Transition(models.StatusRemoteReady, now); err != nil {
			return err
		}
		rec.SetProgress(100)
		rec.TransferSpeed = 0
		rec.Notice = ""
		if status.Bytes > 0 {
			rec.TotalBytes = status.Bytes
		}
		st.stuckSince = time.Time{}
		if err := s.commit(ctx, prev, rec); err != nil {
			return err
		}
		return s.startTransfer(ctx, st, rec, status)
	}
	return nil
}

func (s *Service) handleRemoteError(ctx context.Context, st *recordState, prev, rec *models.DownloadRecord, err error) error {
	now := s.now()
	logger := s.log.With().Str("record_id", rec.ID).Logger()

	var (
		rlErr   *debrid.RateLimitError
		resErr  *debrid.ResolutionError
		apiErr  *debrid.APIError
		retryIn time.Duration
	)
	switch {
	case ctx.Err() != nil:
		return nil

	case errors.Is(err, debrid.ErrRateLimited):
		retryIn = st.backoff.Next()
		if errors.As(err, &rlErr) && rlErr.RetryAfter > retryIn {
			retryIn = rlErr.RetryAfter
		}
		st.nextAt = now.Add(retryIn)
		s.metrics.ObserveRateLimit()
		logger.Warn().Dur("retry_in", retryIn).Time("resume_at", st.nextAt).Msg("Remote rate limited, backing off")
		return nil

	case errors.As(err, &resErr):
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("remote resolution failed: %s", resErr.Status))

	case errors.As(err, &apiErr):
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("remote rejected status request: %v", apiErr))

	default:
		st.transientFailures++
		s.metrics.ObserveTransientFailure()
		if s.cfg.MaxTransientFailures > 0 && st.transientFailures >= s.cfg.MaxTransientFailures {
			return s.fail(ctx, st, prev, rec, fmt.Sprintf("remote unreachable after %d attempts: %v", st.transientFailures, err))
		}
		logger.Warn().Err(err).Int("failures", st.transientFailures).Dur("retry_in", s.cfg.TransientInterval).Msg("Remote poll failed")
		return nil
	}
}

func (s *Service) checkStuck(st *recordState, rec *models.DownloadRecord, now time.Time) {
	if rec.Progress > 0 {
		st.stuckSince = time.Time{}
		if strings.HasPrefix(rec.Notice, stuckNoticePrefix) {
			rec.Notice = ""
		}
		return
	}
	if st.stuckSince.IsZero() {
		st.stuckSince = now
		return
	}
	waited := now.Sub(st.stuckSince)
	if waited >= s.cfg.StuckThreshold && rec.Notice == "" {
		rec.Notice = fmt.Sprintf("%s: no remote progress for %s", stuckNoticePrefix, waited.Round(time.Minute))
		s.log.Warn().Str("record_id", rec.ID).Dur("waited", waited).Msg("Remote transfer shows no progress")
	}
}

func (s *Service) startTransfer(ctx context.Context, st *recordState, rec *models.DownloadRecord, status debrid.Status) error {
	prev := rec.Clone()
	if status.DirectLink == "" {
		return s.fail(ctx, st, prev, rec, "remote reported ready without a download link")
	}

	dest := filepath.Join(s.cfg.DownloadDir, rec.ID, transferFileName(status))
	id, err := s.transfers.Start(ctx, status.DirectLink, dest)
	if err != nil {
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("start local transfer: %v", err))
	}

	rec.LocalTransferID = id
	rec.DownloadedBytes = 0
	if err := rec.Transition(models.StatusLocalTransferring, s.now()); err != nil {
		return err
	}
	s.log.Info().Str("record_id", rec.ID).Str("transfer_id", id).Str("path", dest).Msg("Local transfer started")
	return s.commit(ctx, prev, rec)
}

func transferFileName(status debrid.Status) string {
	name := filepath.Base(strings.ReplaceAll(status.Filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = filepath.Base(strings.SplitN(status.DirectLink, "?", 2)[0])
	}
	name = strings.Trim(name, " .")
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "download"
	}
	return name
}

func (s *Service) refreshTransfer(ctx context.Context, st *recordState, rec *models.DownloadRecord) error {
	prev := rec.Clone()

	ts, err := s.transfers.PollStatus(rec.LocalTransferID)
	if errors.Is(err, transfer.ErrTransferNotFound) || (err == nil && ts.Phase == transfer.PhaseCanceled) {
		// Lost across a restart or stopped underneath us: fetch the link again.
		s.transfers.Forget(rec.LocalTransferID)
		status, fresh, pollErr := s.pollUnlocked(ctx, st, rec)
		if fresh == nil {
			return nil
		}
		rec, prev = fresh, fresh.Clone()
		if pollErr != nil {
			return s.handleRemoteError(ctx, st, prev, rec, pollErr)
		}
		s.log.Info().Str("record_id", rec.ID).Msg("Restarting local transfer")
		return s.restartTransfer(ctx, st, rec, status)
	}
	if err != nil {
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("local transfer: %v", err))
	}

	switch ts.Phase {
	case transfer.PhaseRunning:
		rec.DownloadedBytes = ts.DownloadedBytes
		if ts.TotalBytes > 0 {
			rec.TotalBytes = ts.TotalBytes
		}
		rec.TransferSpeed = ts.Speed
		rec.SetProgress(ts.Progress())
		return s.commit(ctx, prev, rec)

	case transfer.PhaseFailed:
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("local transfer failed: %v", ts.Err))

	case transfer.PhaseComplete:
		s.transfers.Forget(rec.LocalTransferID)
		rec.DownloadedBytes = ts.DownloadedBytes
		rec.TotalBytes = ts.TotalBytes
		rec.TransferSpeed = 0
		rec.SetProgress(100)
		rec.ArchivePath = ts.Path
		if err := rec.Transition(models.StatusLocalTransferComplete, s.now()); err != nil {
			return err
		}
		if err := s.commit(ctx, prev, rec); err != nil {
			return err
		}
		return s.startExtraction(ctx, st, rec)
	}
	return nil
}

func (s *Service) restartTransfer(ctx context.Context, st *recordState, rec *models.DownloadRecord, status debrid.Status) error {
	prev := rec.Clone()
	if status.Phase != debrid.PhaseReady || status.DirectLink == "" {
		return s.fail(ctx, st, prev, rec, "remote no longer offers a download link")
	}
	dest := filepath.Join(s.cfg.DownloadDir, rec.ID, transferFileName(status))
	id, err := s.transfers.Start(ctx, status.DirectLink, dest)
	if err != nil {
		return s.fail(ctx, st, prev, rec, fmt.Sprintf("restart local transfer: %v", err))
	}
	rec.LocalTransferID = id
	rec.DownloadedBytes = 0
	return s.commit(ctx, prev, rec)
}

// startExtraction moves a finished transfer toward its install directory.
// Plain files are placed inline; archives are decoded on a goroutine owned
// by the monitor.
func (s *Service) startExtraction(ctx context.Context, st *recordState, rec *models.DownloadRecord) error {
	if st.extracting {
		return nil
	}
	prev := rec.Clone()

	if rec.ArchivePath == "" {
		return s.fail(ctx, st, prev, rec, "transfer finished without a file")
	}

	job := &extraction.Job{
		ID:              rec.ID,
		ArchivePath:     rec.ArchivePath,
		DestinationRoot: s.cfg.InstallDir,
		Title:           rec.Title,
		Format:          extraction.DetectFormat(rec.ArchivePath),
	}

	if job.Format == extraction.FormatNone {
		dest, err := s.extractor.Extract(ctx, job, nil)
		if err != nil {
			return s.fail(ctx, st, prev, rec, describeExtractionError(err))
		}
		rec.FinalPath = dest
		if err := rec.Transition(models.StatusComplete, s.now()); err != nil {
			return err
		}
		s.log.Info().Str("record_id", rec.ID).Str("path", dest).Msg("Download placed")
		return s.commit(ctx, prev, rec)
	}

	if err := rec.Transition(models.StatusExtracting, s.now()); err != nil {
		return err
	}
	rec.ExtractionProgress = 0
	if err := s.commit(ctx, prev, rec); err != nil {
		return err
	}

	extractCtx, cancel := context.WithCancel(s.baseContext())
	done := make(chan struct{})
	st.extracting = true
	st.extractCancel = cancel
	st.extractDone = done
	st.extractJob = job

	s.wg.Add(1)
	s.spawn(func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()
		s.runExtraction(extractCtx, st, rec.ID, job)
	})
	return nil
}

func (s *Service) runExtraction(ctx context.Context, st *recordState, id string, job *extraction.Job) {
	started := s.now()
	logger := s.log.With().Str("record_id", id).Str("archive", filepath.Base(job.ArchivePath)).Logger()
	logger.Info().Msg("Extraction started")

	dest, err := s.extractor.Extract(ctx, job, func(p float64) {
		s.withRecord(ctx, st, id, func(rec *models.DownloadRecord) {
			if rec.SetProgress(p) {
				rec.ExtractionProgress = rec.Progress
			}
		})
	})
	s.metrics.ObserveExtraction(s.now().Sub(started))

	st.mu.Lock()
	defer st.mu.Unlock()
	if ctx.Err() != nil {
		// Cancel owns the record from here. A tree already moved into place
		// must not outlive it.
		if err == nil && dest != "" {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				logger.Warn().Err(rmErr).Str("path", dest).Msg("Failed to remove canceled install")
			}
		}
		return
	}
	st.extracting = false

	rec, getErr := s.store.Get(id)
	if getErr != nil || rec.Status.IsTerminal() {
		return
	}
	prev := rec.Clone()

	if err != nil {
		logger.Error().Err(err).Msg("Extraction failed")
		if failErr := s.fail(context.WithoutCancel(ctx), st, prev, rec, describeExtractionError(err)); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to save download record")
		}
		return
	}

	rec.FinalPath = dest
	rec.ExtractionProgress = 100
	if err := rec.Transition(models.StatusExtractionComplete, s.now()); err != nil {
		logger.Error().Err(err).Msg("Unexpected transition")
		return
	}
	if err := s.commit(ctx, prev, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to save download record")
		return
	}
	if err := s.finishInstall(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to save download record")
	}
	logger.Info().Str("path", dest).Dur("elapsed", s.now().Sub(started)).Msg("Extraction complete")
}

// withRecord applies fn under the record lock unless ctx is already done.
func (s *Service) withRecord(ctx context.Context, st *recordState, id string, fn func(*models.DownloadRecord)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	rec, err := s.store.Get(id)
	if err != nil || rec.Status.IsTerminal() {
		return
	}
	prev := rec.Clone()
	fn(rec)
	if err := s.commit(ctx, prev, rec); err != nil {
		s.log.Error().Err(err).Str("record_id", id).Msg("Failed to save download record")
	}
}

// finishInstall decides between complete and needs_manual_setup.
func (s *Service) finishInstall(ctx context.Context, rec *models.DownloadRecord) error {
	prev := rec.Clone()
	target := models.StatusComplete

	report, err := extraction.InspectLaunchables(rec.FinalPath)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("Could not inspect installed files")
	case report.NeedsManualSetup():
		target = models.StatusNeedsManualSetup
	}

	if err := rec.Transition(target, s.now()); err != nil {
		return err
	}
	if target == models.StatusNeedsManualSetup && len(report.Installers) > 0 {
		rec.Notice = "run " + report.Installers[0] + " to finish setup"
	}
	return s.commit(ctx, prev, rec)
}

func describeExtractionError(err error) string {
	if errors.Is(err, extraction.ErrToolMissing) {
		return fmt.Sprintf("%v; install 7-Zip or unrar", err)
	}
	return err.Error()
}

// fail tears down every handle of rec and moves it to error.
func (s *Service) fail(ctx context.Context, st *recordState, prev, rec *models.DownloadRecord, msg string) error {
	s.teardown(ctx, st, rec)
	if err := rec.Fail(msg, s.now()); err != nil {
		return err
	}
	s.log.Error().Str("record_id", rec.ID).Str("error", msg).Msg("Download failed")
	return s.commit(ctx, prev, rec)
}

// teardown releases the remote job, the local transfer and any extraction
// work dir. Callers hold st.mu and have already stopped the extraction
// goroutine.
func (s *Service) teardown(ctx context.Context, st *recordState, rec *models.DownloadRecord) {
	if rec.RemoteResolutionID != "" {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PollTimeout)
		if err := s.resolver.Cancel(cancelCtx, rec.RemoteResolutionID); err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to cancel remote job")
		}
		cancel()
		s.cache.Delete("debrid:" + rec.RemoteResolutionID)
	}
	if rec.LocalTransferID != "" {
		s.transfers.Cancel(rec.LocalTransferID)
	}
	if st.extractJob != nil && st.extractJob.WorkDir != "" {
		if err := os.RemoveAll(st.extractJob.WorkDir); err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to remove extraction work dir")
		}
	}
	st.extractJob = nil
	st.stuckSince = time.Time{}
}

// stopExtraction cancels a running extraction and waits for it to exit.
// It must be called with st.mu held and returns with it held.
func (st *recordState) stopExtraction() {
	if !st.extracting || st.extractCancel == nil {
		return
	}
	st.extractCancel()
	done := st.extractDone
	st.mu.Unlock()
	<-done
	st.mu.Lock()
	st.extracting = false
	st.extractCancel = nil
}

// Cancel stops a non-terminal download and releases its handles.
func (s *Service) Cancel(ctx context.Context, id string) (*models.DownloadRecord, error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.cancelLocked(ctx, st, id)
}

func (s *Service) cancelLocked(ctx context.Context, st *recordState, id string) (*models.DownloadRecord, error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	st.stopExtraction()

	rec, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return rec, fmt.Errorf("%w: %s is terminal", models.ErrInvalidTransition, rec.Status)
	}
	prev := rec.Clone()

	s.teardown(ctx, st, rec)
	if err := rec.Transition(models.StatusCanceled, s.now()); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, prev, rec); err != nil {
		return nil, err
	}
	s.log.Info().Str("record_id", id).Msg("Download canceled")
	return rec, nil
}

// Remove cancels id if it is still active and forgets it. deleteFiles also
// removes the downloaded archive and the installed directory.
func (s *Service) Remove(ctx context.Context, id string, deleteFiles bool) error {
	if _, err := s.store.Get(id); err != nil {
		return err
	}
	st := s.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if !rec.Status.IsTerminal() {
		if rec, err = s.cancelLocked(ctx, st, id); err != nil {
			return err
		}
	}

	if deleteFiles {
		s.deleteFiles(rec)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.dropState(id)
	s.emitter.Publish(Update{RecordID: id, Fields: []string{"*"}, Removed: true})
	s.log.Info().Str("record_id", id).Bool("delete_files", deleteFiles).Msg("Download removed")
	return nil
}

func (s *Service) deleteFiles(rec *models.DownloadRecord) {
	var paths []string
	if s.cfg.DownloadDir != "" {
		paths = append(paths, filepath.Join(s.cfg.DownloadDir, rec.ID))
	}
	if rec.ArchivePath != "" {
		paths = append(paths, rec.ArchivePath)
	}
	if rec.FinalPath != "" {
		paths = append(paths, rec.FinalPath)
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Str("path", p).Msg("Failed to delete download files")
		}
	}
}

// cleanupRetention drops terminal records older than the retention window.
func (s *Service) cleanupRetention(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.Retention)
	removed := 0
	for _, rec := range s.store.List() {
		if !rec.Status.IsTerminal() || rec.CompletedAt == nil || rec.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, rec.ID); err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("Retention cleanup failed")
			continue
		}
		s.dropState(rec.ID)
		s.emitter.Publish(Update{RecordID: rec.ID, Fields: []string{"*"}, Removed: true})
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Dur("retention", s.cfg.Retention).Msg("Removed old downloads")
	}
	return removed
}
