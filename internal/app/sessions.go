package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"horse.fit/amscreen/internal/cli"
	"horse.fit/amscreen/internal/session"
)

func runSessions(args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	jsonOutput := fs.Bool("json", false, "Print sessions as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "sessions does not accept positional arguments")
		return 2
	}

	_, service, cleanup, err := bootstrap(envLoader, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summaries, err := service.Sessions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
		return 1
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	if *jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summaries); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions.")
		return 0
	}
	for _, summary := range summaries {
		printSummaryLine(summary)
	}
	return 0
}

func printSummaryLine(summary session.Summary) {
	state := string(summary.Phase)
	if summary.IsPaused {
		state += " (paused)"
	}
	fmt.Printf("%s  %-24s %-22s red=%d amber=%d  %s\n",
		summary.SessionID,
		summary.SubjectName,
		state,
		summary.RedCount,
		summary.AmberCount,
		summary.UpdatedAt.Format(time.RFC3339),
	)
}
