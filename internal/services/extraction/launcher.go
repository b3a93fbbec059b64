// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package extraction

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// LaunchReport summarizes the executables found in an installed tree.
type LaunchReport struct {
	Launchers  []string `json:"launchers"`
	Installers []string `json:"installers"`
}

// NeedsManualSetup is true when nothing in the tree can be started directly.
func (r LaunchReport) NeedsManualSetup() bool {
	return len(r.Launchers) == 0
}

var installerPrefixes = []string{"setup", "install", "unins", "vcredist", "vc_redist", "dxsetup", "dxwebsetup", "oalinst", "physx", "dotnet", "ndp4"}

var redistDirs = map[string]struct{}{
	"_commonredist": {}, "redist": {}, "redistributables": {}, "directx": {}, "vcredist": {}, "support": {},
}

// InspectLaunchables walks root looking for launchable executables. Setup and
// redistributable binaries are reported separately.
func InspectLaunchables(root string) (LaunchReport, error) {
	var report LaunchReport

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		name := strings.ToLower(d.Name())

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := redistDirs[name]; skip {
				return fs.SkipDir
			}
			if strings.HasSuffix(name, ".app") {
				report.Launchers = append(report.Launchers, rel)
				return fs.SkipDir
			}
			return nil
		}

		if !isExecutableName(name) {
			return nil
		}
		if isInstallerName(name) {
			report.Installers = append(report.Installers, rel)
			return nil
		}
		report.Launchers = append(report.Launchers, rel)
		return nil
	})

	sort.Strings(report.Launchers)
	sort.Strings(report.Installers)
	return report, err
}

func isExecutableName(name string) bool {
	for _, ext := range []string{".exe", ".appimage", ".x86_64", ".x86", ".sh"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func isInstallerName(name string) bool {
	for _, p := range installerPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return strings.Contains(name, "redist")
}
