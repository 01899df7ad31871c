package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wesheets/promethios-sub018/internal/feedback"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Collect feedback submissions from a JSON-lines file or stdin",
	Long: `Reads one feedback submission per line, validates each against the
submission schema, runs it through the collector (validation, source
normalization, sanitization, sampling), and stores the surviving
records in the learning memory.

Each line is a JSON object with "source", "content", and optional
"context". Malformed lines fail the command; records discarded by the
sampling gate do not.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "cmd.ingest")
		defer span.End()

		in := os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening submissions file: %w", err)
			}
			defer f.Close()
			in = f
		}

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		stored, sampled, err := ingestSubmissions(ctx, in, a)
		if err != nil {
			return err
		}

		return printJSON(map[string]interface{}{
			"stored":             stored,
			"discarded_sampling": sampled,
		})
	},
}

func ingestSubmissions(ctx context.Context, in io.Reader, a *app) (stored, sampled int, err error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		sub, err := feedback.ParseSubmission(raw)
		if err != nil {
			return stored, sampled, fmt.Errorf("line %d: %w", line, err)
		}

		rec, err := a.collector.Process(ctx, sub, nil)
		if err != nil {
			if errors.Is(err, feedback.ErrValidation) {
				return stored, sampled, fmt.Errorf("line %d: %w", line, err)
			}
			return stored, sampled, fmt.Errorf("line %d: collecting feedback: %w", line, err)
		}
		if rec == nil {
			sampled++
			continue
		}

		if err := a.store.StoreFeedback(ctx, rec); err != nil {
			return stored, sampled, fmt.Errorf("line %d: storing feedback: %w", line, err)
		}
		stored++
	}
	if err := scanner.Err(); err != nil {
		return stored, sampled, fmt.Errorf("reading submissions: %w", err)
	}

	log.Info().Int("stored", stored).Int("discarded_sampling", sampled).Msg("ingest finished")
	return stored, sampled, nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
