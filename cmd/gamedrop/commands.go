// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/monitor"
	"github.com/autobrr/gamedrop/internal/services/search"
)

const defaultNameWidth = 60

func RunSearchCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		asJSON    bool
	)

	command := &cobra.Command{
		Use:   "search <title>",
		Short: "Search every enabled provider and print ranked candidates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configDir, dataDir, "")
			if err != nil {
				return err
			}

			s, err := newStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.close()

			res := s.aggregator.SearchWithStatus(cmd.Context(), strings.Join(args, " "))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			printCandidates(cmd.OutOrStdout(), res.Candidates, nameWidth())
			printProviderStatus(cmd.ErrOrStderr(), res.Providers)
			return nil
		},
	}

	addConfigFlags(command, &configDir, &dataDir, nil)
	command.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")

	return command
}

// nameWidth leaves room for the other columns when stdout is a terminal.
func nameWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < 100 {
		return defaultNameWidth
	}
	return width - 60
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func printCandidates(out io.Writer, candidates []models.SearchCandidate, width int) {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No candidates found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSIZE\tSEEDS\tQUALITY\tRELEVANCE\tMATCH\tPROVIDER")
	for i, c := range candidates {
		size := "-"
		if c.SizeBytes > 0 {
			size = humanize.IBytes(uint64(c.SizeBytes))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.1f\t%.0f\t%s\t%s\n",
			i+1, truncate(c.DisplayName, width), size, c.Seeders, c.QualityScore, c.RelevanceScore, c.MatchType, c.SourceProvider)
	}
	w.Flush()
}

func printProviderStatus(out io.Writer, statuses []search.ProviderStatus) {
	for _, st := range statuses {
		if st.OK {
			fmt.Fprintf(out, "%s: %d results in %s\n", st.Name, st.Count, st.Elapsed.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(out, "%s: %s (%s)\n", st.Name, st.Outcome, st.Error)
	}
}

func RunAcquireCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		noWait    bool
	)

	command := &cobra.Command{
		Use:   "acquire <title>",
		Short: "Pick the best candidate for a title and follow it until installed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configDir, dataDir, logPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := newStack(ctx, cfg)
			if err != nil {
				return err
			}

			monitorCtx, monitorCancel := context.WithCancel(ctx)
			defer func() {
				monitorCancel()
				s.close()
			}()

			updates, unsubscribe := s.monitor.Emitter().Subscribe(64)
			defer unsubscribe()

			s.monitor.Start(monitorCtx)

			rec, err := s.downloads.Acquire(ctx, strings.Join(args, " "))
			if err != nil {
				return errors.Wrap(err, "acquire")
			}

			out := cmd.OutOrStdout()
			name := rec.Title
			if rec.SourceCandidate != nil {
				name = rec.SourceCandidate.DisplayName
			}
			fmt.Fprintf(out, "Created %s: %s\n", rec.ID, name)
			if noWait {
				return nil
			}

			return followRecord(ctx, out, rec.ID, updates)
		},
	}

	addConfigFlags(command, &configDir, &dataDir, &logPath)
	command.Flags().BoolVar(&noWait, "no-wait", false, "return once the download is submitted")

	return command
}

// followRecord prints status changes for id until it reaches a terminal status.
func followRecord(ctx context.Context, out io.Writer, id string, updates <-chan monitor.Update) error {
	var last models.DownloadStatus
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Interrupted. The download keeps its state and resumes on the next start.")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.RecordID != id {
				continue
			}
			if u.Removed || u.Record == nil {
				return errors.New("download was removed")
			}

			rec := u.Record
			if rec.Status != last {
				fmt.Fprintf(out, "%s\n", rec.Status)
				last = rec.Status
			}
			if rec.Notice != "" {
				fmt.Fprintf(out, "  %s\n", rec.Notice)
			}

			switch rec.Status {
			case models.StatusComplete, models.StatusNeedsManualSetup:
				fmt.Fprintf(out, "Installed to %s\n", rec.FinalPath)
				return nil
			case models.StatusError:
				return errors.New(rec.Error)
			case models.StatusCanceled:
				return errors.New("download was canceled")
			}
		}
	}
}

func RunProvidersCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "providers",
		Short: "Manage search providers",
	}

	command.AddCommand(runProvidersListCommand())
	command.AddCommand(runProvidersAddCommand())
	command.AddCommand(runProvidersRemoveCommand())

	return command
}

func withProviderStore(configDir, dataDir string, fn func(*models.ProviderStore) error) error {
	cfg, err := loadConfig(configDir, dataDir, "")
	if err != nil {
		return err
	}

	db, store, err := openProviderStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(store)
}

func runProvidersListCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProviderStore(configDir, dataDir, func(store *models.ProviderStore) error {
				providers, err := store.List(cmd.Context())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tKIND\tURL\tENABLED\tCOMPANION\tPRIORITY")
				for _, p := range providers {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%t\t%d\n", p.ID, p.Name, p.Kind, p.BaseURL, p.Enabled, p.Companion, p.Priority)
				}
				return w.Flush()
			})
		},
	}

	addConfigFlags(command, &configDir, &dataDir, nil)
	return command
}

func runProvidersAddCommand() *cobra.Command {
	var (
		configDir, dataDir string
		input              models.ProviderInput
		apiKey             string
		disabled           bool
		companion          bool
		priority           int
		timeout            int
	)

	command := &cobra.Command{
		Use:   "add",
		Short: "Add a search provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey != "" {
				input.APIKey = &apiKey
			}
			enabled := !disabled
			input.Enabled = &enabled
			input.Companion = &companion
			input.Priority = &priority
			if timeout > 0 {
				input.TimeoutSeconds = &timeout
			}

			return withProviderStore(configDir, dataDir, func(store *models.ProviderStore) error {
				p, err := store.Create(cmd.Context(), &input)
				if err != nil {
					return err
				}
				cmd.Printf("Added provider %q with id %d\n", p.Name, p.ID)
				return nil
			})
		},
	}

	addConfigFlags(command, &configDir, &dataDir, nil)
	command.Flags().StringVar(&input.Name, "name", "", "unique provider name")
	command.Flags().StringVar((*string)(&input.Kind), "kind", string(models.ProviderKindTorznab), "torznab, apibay, hydra, html or simulated")
	command.Flags().StringVar(&input.BaseURL, "url", "", "provider base URL")
	command.Flags().StringVar(&apiKey, "api-key", "", "provider API key, stored encrypted")
	command.Flags().BoolVar(&disabled, "disabled", false, "add the provider without enabling it")
	command.Flags().BoolVar(&companion, "companion", false, "checked first by quick pick")
	command.Flags().IntVar(&priority, "priority", 0, "higher priority breaks ranking ties")
	command.Flags().IntVar(&timeout, "timeout", 0, "per-search timeout in seconds")
	_ = command.MarkFlagRequired("name")

	return command
}

func runProvidersRemoveCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a search provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid provider id %q", args[0])
			}

			return withProviderStore(configDir, dataDir, func(store *models.ProviderStore) error {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("Removed provider %d\n", id)
				return nil
			})
		},
	}

	addConfigFlags(command, &configDir, &dataDir, nil)
	return command
}
