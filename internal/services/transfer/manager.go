// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transfer streams unrestricted links to local files.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/autobrr/gamedrop/internal/buildinfo"
)

const (
	partSuffix      = ".part"
	speedWindow     = time.Second
	speedAlpha      = 0.3
	copyBufferBytes = 256 << 10
)

var ErrTransferNotFound = errors.New("transfer not found")

// Phase is the lifecycle of one transfer.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
	PhaseCanceled Phase = "canceled"
)

// Error is a failed transfer. The partial file is already gone when it is returned.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Status struct {
	ID              string `json:"id"`
	Path            string `json:"path"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	TotalBytes      int64  `json:"totalBytes"`
	Speed           int64  `json:"speed"`
	Phase           Phase  `json:"phase"`
	Err             error  `json:"-"`
}

// Progress returns 0-100, or 0 when the size is unknown.
func (s Status) Progress() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	p := float64(s.DownloadedBytes) / float64(s.TotalBytes) * 100
	if p > 100 {
		p = 100
	}
	return p
}

type job struct {
	id       string
	url      string
	dest     string
	cancel   context.CancelFunc
	done     chan struct{}
	written  atomic.Int64
	total    atomic.Int64
	speed    atomic.Int64
	mu       sync.Mutex
	phase    Phase
	err      error
	finished time.Time
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		ID:              j.id,
		Path:            j.dest,
		DownloadedBytes: j.written.Load(),
		TotalBytes:      j.total.Load(),
		Speed:           j.speed.Load(),
		Phase:           j.phase,
		Err:             j.err,
	}
}

func (j *job) finish(phase Phase, err error) {
	j.mu.Lock()
	j.phase = phase
	j.err = err
	j.finished = time.Now()
	j.mu.Unlock()
	if phase != PhaseRunning {
		j.speed.Store(0)
	}
}

// Manager runs transfers in the background. Finished transfers stay
// queryable until Forget or Cancel is called.
type Manager struct {
	client *http.Client
	log    zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func NewManager(client *http.Client) *Manager {
	if client == nil {
		// No overall timeout; archives can take hours.
		client = &http.Client{}
	}
	return &Manager{
		client: client,
		log:    log.Logger.With().Str("module", "transfer").Logger(),
		jobs:   make(map[string]*job),
	}
}

// Start begins streaming url to destPath. The transfer outlives ctx's
// cancellation; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, url, destPath string) (string, error) {
	if url == "" || destPath == "" {
		return "", &Error{Op: "start", Err: errors.New("url and destination are required")}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", &Error{Op: "start", Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:     ksuid.New().String(),
		url:    url,
		dest:   destPath,
		cancel: cancel,
		done:   make(chan struct{}),
		phase:  PhaseRunning,
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(j.done)
		m.run(runCtx, j)
	}()

	m.log.Debug().Str("transfer_id", j.id).Str("path", destPath).Msg("Transfer started")
	return j.id, nil
}

func (m *Manager) run(ctx context.Context, j *job) {
	partPath := j.dest + partSuffix

	err := m.download(ctx, j, partPath)
	if err == nil {
		if renameErr := os.Rename(partPath, j.dest); renameErr != nil {
			err = &Error{Op: "rename", Err: renameErr}
		}
	}

	if err != nil {
		_ = os.Remove(partPath)
		if ctx.Err() != nil {
			j.finish(PhaseCanceled, context.Canceled)
			m.log.Debug().Str("transfer_id", j.id).Msg("Transfer canceled")
			return
		}
		j.finish(PhaseFailed, err)
		m.log.Warn().Err(err).Str("transfer_id", j.id).Msg("Transfer failed")
		return
	}

	if j.total.Load() <= 0 {
		j.total.Store(j.written.Load())
	}
	j.finish(PhaseComplete, nil)
	m.log.Debug().Str("transfer_id", j.id).Int64("bytes", j.written.Load()).Msg("Transfer complete")
}

func (m *Manager) download(ctx context.Context, j *job, partPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return &Error{Op: "request", Err: err}
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return &Error{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Op: "request", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	if resp.ContentLength > 0 {
		j.total.Store(resp.ContentLength)
	}

	out, err := os.Create(partPath)
	if err != nil {
		return &Error{Op: "create", Err: err}
	}

	meter := newSpeedMeter(time.Now())
	w := &progressWriter{w: out, job: j, meter: meter}
	_, copyErr := io.CopyBuffer(w, resp.Body, make([]byte, copyBufferBytes))
	closeErr := out.Close()

	if copyErr != nil {
		return &Error{Op: "copy", Err: copyErr}
	}
	if closeErr != nil {
		return &Error{Op: "close", Err: closeErr}
	}
	if total := j.total.Load(); total > 0 && j.written.Load() != total {
		return &Error{Op: "copy", Err: fmt.Errorf("short body: got %d of %d bytes", j.written.Load(), total)}
	}
	return nil
}

// PollStatus reports the transfer's current state.
func (m *Manager) PollStatus(id string) (Status, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	return j.status(), nil
}

// Cancel stops a transfer, waits for the partial file to be removed and
// forgets it. Unknown ids are ignored.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	delete(m.jobs, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	<-j.done
}

// Forget drops a finished transfer.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	if j, ok := m.jobs[id]; ok && j.status().Phase != PhaseRunning {
		delete(m.jobs, id)
	}
	m.mu.Unlock()
}

// Shutdown cancels every running transfer and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, j := range m.jobs {
		j.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

type progressWriter struct {
	w     io.Writer
	job   *job
	meter *speedMeter
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	total := p.job.written.Add(int64(n))
	if speed, ok := p.meter.observe(time.Now(), total); ok {
		p.job.speed.Store(speed)
	}
	return n, err
}

// speedMeter keeps an exponentially weighted moving average of bytes per second.
type speedMeter struct {
	lastAt    time.Time
	lastBytes int64
	ewma      float64
	primed    bool
}

func newSpeedMeter(now time.Time) *speedMeter {
	return &speedMeter{lastAt: now}
}

func (s *speedMeter) observe(now time.Time, total int64) (int64, bool) {
	elapsed := now.Sub(s.lastAt)
	if elapsed < speedWindow {
		return 0, false
	}
	instant := float64(total-s.lastBytes) / elapsed.Seconds()
	if !s.primed {
		s.ewma = instant
		s.primed = true
	} else {
		s.ewma = speedAlpha*instant + (1-speedAlpha)*s.ewma
	}
	s.lastAt = now
	s.lastBytes = total
	return int64(s.ewma), true
}
