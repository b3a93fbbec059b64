// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package extraction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const workDirPrefix = ".gamedrop-work-"

type Config struct {
	// PreferExternal runs the external tool for zip archives too.
	PreferExternal bool
	// ToolArgs are extra arguments for 7z/unrar, split with shell quoting rules.
	ToolArgs     string
	SevenZipPath string
	UnrarPath    string
}

type Engine struct {
	preferExternal bool
	extraArgs      []string
	overrides      map[toolKind]string
	knownPaths     map[toolKind][]string
	lookPath       func(string) (string, error)
	log            zerolog.Logger

	mu       sync.Mutex
	progress map[*Job]func(float64)
}

func NewEngine(cfg Config) (*Engine, error) {
	args, err := shellquote.Split(cfg.ToolArgs)
	if err != nil {
		return nil, fmt.Errorf("parse extraction tool args: %w", err)
	}

	return &Engine{
		preferExternal: cfg.PreferExternal,
		extraArgs:      args,
		overrides: map[toolKind]string{
			toolSevenZip: cfg.SevenZipPath,
			toolUnrar:    cfg.UnrarPath,
		},
		knownPaths: defaultKnownPaths,
		lookPath:   exec.LookPath,
		log:        log.Logger.With().Str("module", "extraction").Logger(),
		progress:   make(map[*Job]func(float64)),
	}, nil
}

// report forwards monotonic progress for job.
func (e *Engine) report(job *Job, p float64) {
	if p > 100 {
		p = 100
	}
	if p <= job.Progress {
		return
	}
	job.Progress = p

	e.mu.Lock()
	fn := e.progress[job]
	e.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// Extract decodes job.ArchivePath into <DestinationRoot>/<title> and returns
// that directory. The archive is deleted only after the result is verified.
// Files that are not archives are moved into the title directory as is.
func (e *Engine) Extract(ctx context.Context, job *Job, progress func(float64)) (string, error) {
	if job == nil || job.ArchivePath == "" || job.DestinationRoot == "" {
		return "", &StageError{Stage: StageDetect, Err: errors.New("archive path and destination are required")}
	}

	e.mu.Lock()
	e.progress[job] = progress
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.progress, job)
		e.mu.Unlock()
	}()

	job.Status = JobRunning
	dest, err := e.extract(ctx, job)
	switch {
	case err == nil:
		job.Status = JobDone
		e.report(job, 100)
	case ctx.Err() != nil:
		job.Status = JobCanceled
	default:
		job.Status = JobFailed
	}
	return dest, err
}

func (e *Engine) extract(ctx context.Context, job *Job) (string, error) {
	info, err := os.Stat(job.ArchivePath)
	if err != nil {
		return "", &StageError{Stage: StageDetect, Err: err}
	}
	if info.IsDir() {
		return "", &StageError{Stage: StageDetect, Err: fmt.Errorf("%s is a directory", job.ArchivePath)}
	}
	if err := os.MkdirAll(job.DestinationRoot, 0o755); err != nil {
		return "", &StageError{Stage: StageDetect, Err: err}
	}

	if job.Format == FormatNone {
		job.Format = DetectFormat(job.ArchivePath)
	}
	if job.Format == FormatNone {
		return e.placeFile(job)
	}

	archive := job.ArchivePath
	if job.Format == FormatRar {
		archive = firstRarVolume(archive)
	}

	job.WorkDir = filepath.Join(job.DestinationRoot, workDirPrefix+workID(job))
	if err := os.RemoveAll(job.WorkDir); err != nil {
		return "", &StageError{Stage: StageDecode, Err: err}
	}
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return "", &StageError{Stage: StageDecode, Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(job.WorkDir); rmErr != nil {
			e.log.Warn().Err(rmErr).Str("work_dir", job.WorkDir).Msg("Failed to remove extraction work dir")
		}
	}()

	e.log.Info().Str("job_id", job.ID).Str("archive", filepath.Base(archive)).Str("format", string(job.Format)).Msg("Extracting archive")

	if err := e.decode(ctx, job, archive); err != nil {
		if ctx.Err() != nil {
			return "", &StageError{Stage: StageDecode, Err: ctx.Err()}
		}
		return "", &StageError{Stage: StageDecode, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &StageError{Stage: StageDecode, Err: err}
	}

	target, err := e.moveIntoPlace(job)
	if err != nil {
		return "", err
	}

	if err := os.RemoveAll(job.WorkDir); err != nil {
		return "", &StageError{Stage: StageCleanup, Err: err}
	}
	for _, vol := range archiveVolumes(job.ArchivePath) {
		if err := os.Remove(vol); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", &StageError{Stage: StageCleanup, Err: err}
		}
	}

	e.log.Info().Str("job_id", job.ID).Str("path", target).Msg("Extraction complete")
	return target, nil
}

func (e *Engine) decode(ctx context.Context, job *Job, archive string) error {
	onBytes := func(done, total int64) {
		if total > 0 {
			// The last few percent are left for move and verify.
			e.report(job, float64(done)/float64(total)*95)
		}
	}

	switch {
	case job.Format.External():
		return e.runTool(ctx, job, archive, job.WorkDir)
	case job.Format == FormatZip && e.preferExternal:
		err := e.runTool(ctx, job, archive, job.WorkDir)
		if !errors.Is(err, ErrToolMissing) {
			return err
		}
		e.log.Debug().Str("job_id", job.ID).Msg("External tool missing, using in-process zip decoder")
		return extractZip(ctx, archive, job.WorkDir, onBytes)
	case job.Format == FormatZip:
		return extractZip(ctx, archive, job.WorkDir, onBytes)
	default:
		return extractTar(ctx, archive, job.WorkDir, job.Format, onBytes)
	}
}

// moveIntoPlace renames the decoded tree to its final directory, flattening
// a single top-level folder, and verifies the result.
func (e *Engine) moveIntoPlace(job *Job) (string, error) {
	src := job.WorkDir
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", &StageError{Stage: StageMove, Err: err}
	}
	if len(entries) == 0 {
		return "", &StageError{Stage: StageVerify, Err: errors.New("archive produced no files")}
	}
	if len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(src, entries[0].Name())
	}

	expected, err := countEntries(src)
	if err != nil {
		return "", &StageError{Stage: StageMove, Err: err}
	}

	target := uniqueTarget(filepath.Join(job.DestinationRoot, SanitizeTitle(job.Title)))
	if err := os.Rename(src, target); err != nil {
		return "", &StageError{Stage: StageMove, Err: err}
	}

	got, err := countEntries(target)
	if err != nil || got != expected {
		_ = os.RemoveAll(target)
		if err == nil {
			err = fmt.Errorf("expected %d entries after move, found %d", expected, got)
		}
		return "", &StageError{Stage: StageVerify, Err: err}
	}
	e.report(job, 99)
	return target, nil
}

// placeFile moves a non-archive download to <dest>/<title>/<file>.
func (e *Engine) placeFile(job *Job) (string, error) {
	target := uniqueTarget(filepath.Join(job.DestinationRoot, SanitizeTitle(job.Title)))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", &StageError{Stage: StageMove, Err: err}
	}
	dst := filepath.Join(target, filepath.Base(job.ArchivePath))
	if err := os.Rename(job.ArchivePath, dst); err != nil {
		_ = os.Remove(target)
		return "", &StageError{Stage: StageMove, Err: err}
	}
	if _, err := os.Stat(dst); err != nil {
		return "", &StageError{Stage: StageVerify, Err: err}
	}
	return target, nil
}

func countEntries(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root {
			n++
		}
		return nil
	})
	return n, err
}

// uniqueTarget appends " (2)", " (3)" ... until path is free.
func uniqueTarget(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return path
	}
	for i := 2; ; i++ {
		candidate := path + " (" + strconv.Itoa(i) + ")"
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

func workID(job *Job) string {
	if job.ID != "" {
		return job.ID
	}
	return strconv.FormatInt(int64(os.Getpid()), 10)
}
