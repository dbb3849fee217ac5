package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"horse.fit/amscreen/internal/cli"
	"horse.fit/amscreen/internal/pipeline"
	"horse.fit/amscreen/internal/progress"
	"horse.fit/amscreen/internal/session"
)

func runScreen(args []string) int {
	fs := flag.NewFlagSet("screen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	subject := fs.String("subject", "", "Subject name to screen")
	variants := fs.String("variants", "", "Comma-separated additional name variants")
	languageMode := fs.String("language", "", "Query language mode: zh or en (detected when empty)")
	resume := fs.String("resume", "", "Resume an existing session by ID instead of starting a new one")
	expandCompanies := fs.Bool("expand-companies", false, "Also screen companies detected in the subject's results")
	jsonOutput := fs.Bool("json", false, "Print the full result as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *subject == "" && *resume == "" {
		fmt.Fprintln(os.Stderr, "--subject or --resume is required")
		return 2
	}
	if *languageMode != "" && *languageMode != "zh" && *languageMode != "en" {
		fmt.Fprintln(os.Stderr, "--language must be zh or en")
		return 2
	}

	logger, service, cleanup, err := bootstrap(envLoader, *expandCompanies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	sess, err := service.StartOrResume(ctx, pipeline.StartRequest{
		SubjectName:  *subject,
		NameVariants: splitVariants(*variants),
		LanguageMode: *languageMode,
	}, strings.TrimSpace(*resume))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start screening: %v\n", err)
		return 1
	}
	sessionID := sess.SessionID
	fmt.Fprintf(os.Stderr, "Session: %s\n", sessionID)

	runErr := service.Run(ctx, sessionID, progress.NewLoggerSink(logger))
	switch {
	case errors.Is(runErr, pipeline.ErrPaused):
		fmt.Fprintf(os.Stderr, "Paused. Resume with: amscreen screen --resume %s\n", sessionID)
		return 0
	case errors.Is(runErr, context.Canceled):
		fmt.Fprintf(os.Stderr, "Interrupted. Resume with: amscreen screen --resume %s\n", sessionID)
		return 1
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "Screening failed: %v\n", runErr)
		fmt.Fprintf(os.Stderr, "Resume with: amscreen screen --resume %s\n", sessionID)
		return 1
	}

	result, err := service.Result(context.Background(), sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load result: %v\n", err)
		return 1
	}

	if *jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			return 1
		}
		return 0
	}

	printFindings(result)
	return 0
}

func splitVariants(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func printFindings(result *session.Session) {
	if len(result.Consolidated) == 0 {
		fmt.Printf("No adverse media found for %s.\n", result.SubjectName)
		return
	}

	fmt.Printf("Findings for %s (%d):\n\n", result.SubjectName, len(result.Consolidated))
	for i, finding := range result.Consolidated {
		fmt.Printf("%d. [%s] %s\n", i+1, finding.Severity, finding.Headline)
		if finding.Summary != "" {
			fmt.Printf("   %s\n", finding.Summary)
		}
		for _, source := range finding.Sources {
			marker := ""
			if source.FetchFailed {
				marker = " (needs manual review)"
			}
			fmt.Printf("   - %s%s\n", source.URL, marker)
		}
		fmt.Println()
	}
}
