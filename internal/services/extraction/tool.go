// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type toolKind string

const (
	toolSevenZip toolKind = "7z"
	toolUnrar    toolKind = "unrar"
)

var defaultKnownPaths = map[toolKind][]string{
	toolSevenZip: {
		"/usr/bin/7z", "/usr/local/bin/7z", "/usr/bin/7zz", "/usr/local/bin/7zz",
		"/opt/homebrew/bin/7z", "/opt/homebrew/bin/7zz",
		`C:\Program Files\7-Zip\7z.exe`, `C:\Program Files (x86)\7-Zip\7z.exe`,
	},
	toolUnrar: {
		"/usr/bin/unrar", "/usr/local/bin/unrar", "/opt/homebrew/bin/unrar",
		`C:\Program Files\WinRAR\UnRAR.exe`, `C:\Program Files (x86)\WinRAR\UnRAR.exe`,
	},
}

var lookupNames = map[toolKind][]string{
	toolSevenZip: {"7z", "7zz", "7za"},
	toolUnrar:    {"unrar"},
}

// findTool returns the first usable binary: the configured override, a
// well-known install path, then PATH.
func (e *Engine) findTool(kind toolKind) (string, error) {
	if override := e.overrides[kind]; override != "" {
		if isExecutable(override) {
			return override, nil
		}
		log.Warn().Str("tool", string(kind)).Str("path", override).Msg("Configured extraction tool is not executable")
	}

	for _, p := range e.knownPaths[kind] {
		if isExecutable(p) {
			return p, nil
		}
	}

	for _, name := range lookupNames[kind] {
		if p, err := e.lookPath(name); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: %s (install it or set its path in the config)", ErrToolMissing, kind)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func (e *Engine) toolArgs(kind toolKind, archive, workDir string) []string {
	switch kind {
	case toolUnrar:
		args := []string{"x", "-o+", "-y"}
		args = append(args, e.extraArgs...)
		return append(args, archive, workDir+string(filepath.Separator))
	default:
		args := []string{"x", "-o" + workDir, "-y"}
		args = append(args, e.extraArgs...)
		return append(args, archive)
	}
}

// toolsFor lists the tools able to decode format, in order of preference.
func toolsFor(format Format) []toolKind {
	if format == FormatRar {
		return []toolKind{toolUnrar, toolSevenZip}
	}
	return []toolKind{toolSevenZip}
}

// runTool runs the external extractor. ctx cancellation kills the process.
func (e *Engine) runTool(ctx context.Context, job *Job, archive, workDir string) error {
	var (
		path string
		kind toolKind
		err  error
	)
	for _, k := range toolsFor(job.Format) {
		if path, err = e.findTool(k); err == nil {
			kind = k
			break
		}
	}
	if path == "" {
		return err
	}

	args := e.toolArgs(kind, archive, workDir)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &percentWriter{onPercent: func(p float64) { e.report(job, p*95/100) }}

	log.Debug().Str("job_id", job.ID).Str("tool", path).Strs("args", args).Msg("Starting extraction tool")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", kind, err)
	}
	job.ToolHandle = cmd.Process.Pid

	err = cmd.Wait()
	job.ToolHandle = 0
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ToolError{Tool: string(kind), ExitCode: exitErr.ExitCode(), Stderr: tail(stderr.String(), 2048)}
		}
		return fmt.Errorf("run %s: %w", kind, err)
	}
	return nil
}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// percentWriter picks "NN%" markers out of tool output.
type percentWriter struct {
	onPercent func(float64)
}

func (w *percentWriter) Write(p []byte) (int, error) {
	for _, m := range percentRe.FindAllSubmatch(p, -1) {
		if v, err := strconv.Atoi(string(m[1])); err == nil && v <= 100 {
			w.onPercent(float64(v))
		}
	}
	return len(p), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var rarPartRe = regexp.MustCompile(`(?i)^(.*)\.part(\d+)\.rar$`)

// firstRarVolume points multi-volume sets at their first part.
func firstRarVolume(path string) string {
	dir, name := filepath.Split(path)
	m := rarPartRe.FindStringSubmatch(name)
	if m == nil {
		return path
	}
	if n, _ := strconv.Atoi(m[2]); n == 1 {
		return path
	}
	width := len(m[2])
	first := fmt.Sprintf("%s.part%0*d.rar", m[1], width, 1)
	if _, err := os.Stat(filepath.Join(dir, first)); err == nil {
		return filepath.Join(dir, first)
	}
	return path
}

// archiveVolumes lists every file belonging to the archive so they can be
// removed together after a successful extraction.
func archiveVolumes(path string) []string {
	dir, name := filepath.Split(path)
	m := rarPartRe.FindStringSubmatch(name)
	if m == nil {
		return []string{path}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{path}
	}
	prefix := strings.ToLower(m[1]) + ".part"
	var out []string
	for _, e := range entries {
		lower := strings.ToLower(e.Name())
		if strings.HasPrefix(lower, prefix) && strings.HasSuffix(lower, ".rar") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	if len(out) == 0 {
		return []string{path}
	}
	return out
}
