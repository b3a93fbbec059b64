// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package extraction turns a downloaded archive into an installed game directory.
package extraction

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

type Format string

const (
	FormatNone  Format = ""
	FormatZip   Format = "zip"
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
	FormatTarZs Format = "tar.zst"
	FormatTarXz Format = "tar.xz"
	Format7z    Format = "7z"
	FormatRar   Format = "rar"
)

// External reports whether the format always needs the external tool.
func (f Format) External() bool {
	return f == Format7z || f == FormatRar
}

// DetectFormat picks the decoder from the file name.
func DetectFormat(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZs
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	case strings.HasSuffix(name, ".7z"), strings.HasSuffix(name, ".7z.001"):
		return Format7z
	case strings.HasSuffix(name, ".rar"):
		return FormatRar
	}
	return FormatNone
}

// JobStatus tracks where a job is inside Extract.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// Job is one extraction. WorkDir is always removed when Extract returns.
type Job struct {
	ID              string    `json:"id"`
	ArchivePath     string    `json:"archivePath"`
	DestinationRoot string    `json:"destinationRoot"`
	Title           string    `json:"title"`
	Format          Format    `json:"format"`
	Progress        float64   `json:"progress"`
	Status          JobStatus `json:"status"`
	ToolHandle      int       `json:"toolHandle,omitempty"`
	WorkDir         string    `json:"workDir,omitempty"`
}

// Stage names the step of an extraction that failed.
type Stage string

const (
	StageDetect  Stage = "detect"
	StageDecode  Stage = "decode"
	StageMove    Stage = "move"
	StageVerify  Stage = "verify"
	StageCleanup Stage = "cleanup"
)

var (
	ErrToolMissing = errors.New("extraction tool not found")
	ErrUnsafePath  = errors.New("archive entry escapes destination")
)

// StageError wraps a failure with the stage it happened in. The archive is
// left in place whenever a StageError is returned.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("extraction %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ToolError is a non-zero exit from the external tool.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, msg)
}

var (
	unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)
	spaceRun        = regexp.MustCompile(`\s+`)
)

// SanitizeTitle makes title usable as a single directory name.
func SanitizeTitle(title string) string {
	s := unsafeNameChars.ReplaceAllString(title, " ")
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.Trim(s, " .")
	if s == "" {
		return "download"
	}
	if len(s) > 120 {
		s = strings.TrimRight(s[:120], " .")
	}
	return s
}
