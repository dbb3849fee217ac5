package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/amscreen/internal/cli"
	"horse.fit/amscreen/internal/session"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	jsonOutput := fs.Bool("json", false, "Print status as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: amscreen status [flags] <session-id>")
		return 2
	}
	sessionID := fs.Arg(0)

	_, service, cleanup, err := bootstrap(envLoader, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, err := service.Status(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Session %s not found\n", sessionID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load status: %v\n", err)
		return 1
	}

	if *jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summary); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("Session:  %s\n", summary.SessionID)
	fmt.Printf("Subject:  %s\n", summary.SubjectName)
	fmt.Printf("Phase:    %s\n", summary.Phase)
	fmt.Printf("Paused:   %v\n", summary.IsPaused)
	fmt.Printf("Progress: %s\n", summary.Progress)
	fmt.Printf("Red:      %d\n", summary.RedCount)
	fmt.Printf("Amber:    %d\n", summary.AmberCount)
	fmt.Printf("Updated:  %s\n", summary.UpdatedAt.Format(time.RFC3339))
	return 0
}
