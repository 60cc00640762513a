package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hyperengineering/distill/pkg/client"
	"github.com/spf13/cobra"
)

var (
	ingestURL          string
	ingestAPIKey       string
	ingestKB           string
	ingestName         string
	ingestText         string
	ingestProvider     string
	ingestPollInterval time.Duration
	ingestJSONOutput   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into a running server",
	Long: "Upload a file (or --text) to a Distill server and stream its progress " +
		"log until processing finishes. Use - to read text from stdin.",
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestURL, "url", envOr("DISTILL_URL", "http://localhost:8080"), "Server URL")
	ingestCmd.Flags().StringVar(&ingestAPIKey, "api-key", os.Getenv("DISTILL_API_KEY"), "API key")
	ingestCmd.Flags().StringVar(&ingestKB, "kb", "", "Knowledge base ID (required)")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "Source name (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "Ingest this text instead of a file")
	ingestCmd.Flags().StringVar(&ingestProvider, "provider", "", "Embeddings provider: openai or local")
	ingestCmd.Flags().DurationVar(&ingestPollInterval, "poll", time.Second, "Status poll interval")
	ingestCmd.Flags().BoolVar(&ingestJSONOutput, "json", false, "Print the result as JSON")
	_ = ingestCmd.MarkFlagRequired("kb")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestPollInterval <= 0 {
		return fmt.Errorf("--poll must be positive, got %s", ingestPollInterval)
	}

	params, err := ingestParams(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	c, err := client.New(client.Config{BaseURL: ingestURL, APIKey: ingestAPIKey})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	res, err := ingestAndFollow(ctx, c, params, ingestPollInterval, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ingestJSONOutput {
		return printJSON(out, res)
	}
	fmt.Fprintln(out, res.Message)
	for _, f := range res.Facts {
		fmt.Fprintf(out, "  - %s\n", f)
	}
	return nil
}

func ingestParams(stdin io.Reader, args []string) (client.IngestParams, error) {
	p := client.IngestParams{
		KnowledgeBaseID:    ingestKB,
		SourceName:         ingestName,
		EmbeddingsProvider: ingestProvider,
		RequestID:          client.NewRequestID(),
	}

	switch {
	case ingestText != "" && len(args) > 0:
		return p, errors.New("pass either a file or --text, not both")
	case ingestText != "":
		p.Content = ingestText
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return p, fmt.Errorf("read stdin: %w", err)
		}
		p.Content = string(data)
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return p, fmt.Errorf("read file: %w", err)
		}
		p.File = data
		p.FileName = filepath.Base(args[0])
		if p.SourceName == "" {
			p.SourceName = p.FileName
		}
	default:
		return p, errors.New("a file argument or --text is required")
	}

	if p.File == nil && p.SourceName == "" {
		return p, errors.New("--name is required for text sources")
	}
	return p, nil
}

// ingestAndFollow submits the document and, while the server works, prints
// each new log line from the status endpoint.
func ingestAndFollow(ctx context.Context, c *client.Client, p client.IngestParams, interval time.Duration, logs io.Writer) (*client.IngestResult, error) {
	type outcome struct {
		res *client.IngestResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Ingest(ctx, p)
		done <- outcome{res, err}
	}()

	printLogs := func() {
		s, err := c.Status(ctx, p.RequestID)
		if err != nil {
			return
		}
		for _, line := range s.Logs {
			fmt.Fprintln(logs, line)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			// Drain lines written after the last poll.
			printLogs()
			return o.res, o.err
		case <-ticker.C:
			printLogs()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
