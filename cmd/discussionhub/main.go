package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"discussionhub/internal/app"
	"discussionhub/internal/config"
	"discussionhub/internal/logging"
	"discussionhub/pkg/types"
)

const usage = `Usage: discussionhub [command]

Commands:
  serve               Start the server (default)
  health              Query a running server's health
  report <sessionId>  Print the analysis of a completed session
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		return runServe(ctx)
	case "health":
		return runHealth(ctx, out)
	case "report":
		if len(args) != 1 {
			return fmt.Errorf("report requires exactly one session id\n\n%s", usage)
		}
		return runReport(ctx, args[0], out)
	case "help", "-h", "--help":
		_, err := fmt.Fprint(out, usage)
		return err
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}
}

// configPath returns DISCUSSIONHUB_CONFIG, or discussionhub.yaml when it
// exists in the working directory.
func configPath() string {
	if path := os.Getenv("DISCUSSIONHUB_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("discussionhub.yaml"); err == nil {
		return "discussionhub.yaml"
	}
	return ""
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Close()
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

func runHealth(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	host := cfg.HTTP.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(cfg.HTTP.Port)))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status      string         `json:"status"`
		Database    string         `json:"database"`
		Uptime      string         `json:"uptime"`
		Rooms       map[string]int `json:"rooms"`
		Connections map[string]int `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Check", "Value"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.Append([]string{"status", health.Status})
	table.Append([]string{"database", health.Database})
	table.Append([]string{"uptime", health.Uptime})
	table.Append([]string{"rooms", strconv.Itoa(health.Rooms["rooms"])})
	table.Append([]string{"subscribers", strconv.Itoa(health.Rooms["subscribers"])})
	table.Append([]string{"connections", strconv.Itoa(health.Connections["connections"])})
	table.Render()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runReport(ctx context.Context, sessionID string, out io.Writer) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer application.Close()

	session, err := application.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Analysis == nil {
		return fmt.Errorf("session %s has no analysis (status %s)", sessionID, session.Status)
	}
	return printReport(out, session)
}

var errNoAnalysis = errors.New("session has no analysis")

func printReport(out io.Writer, session *types.Session) error {
	analysis := session.Analysis
	if analysis == nil {
		return errNoAnalysis
	}

	fmt.Fprintf(out, "%s (%s)\n", session.Title, session.Type)
	fmt.Fprintf(out, "Overall score: %d   Duration: %s   Completed: %s\n\n",
		analysis.OverallScore,
		time.Duration(analysis.Duration)*time.Second,
		analysis.CompletedAt.Format(time.RFC3339))

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Participant", "Speaking", "Quality", "Effectiveness", "Improvements"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, p := range analysis.ParticipantAnalyses {
		table.Append([]string{
			p.ParticipantName,
			(time.Duration(p.SpeakingTime) * time.Second).String(),
			strconv.Itoa(p.ContributionQuality),
			strconv.Itoa(p.CommunicationEffectiveness),
			strings.Join(p.Improvements, "; "),
		})
	}
	table.Render()

	fmt.Fprintln(out, "\nKey insights:")
	for _, insight := range analysis.KeyInsights {
		fmt.Fprintf(out, "  - %s\n", insight)
	}
	fmt.Fprintln(out, "Recommendations:")
	for _, rec := range analysis.Recommendations {
		fmt.Fprintf(out, "  - %s\n", rec)
	}
	return nil
}
