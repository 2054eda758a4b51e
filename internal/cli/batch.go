package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"veridict/internal/model"
	"veridict/internal/report"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Fact-check multiple claims from a file in parallel",
	Long: `Batch verifies multiple claims concurrently:
- Read claims from the input file (one per line, # comments skipped)
- Run a full verification session per claim, several in flight at once
- Write individual JSON and Markdown reports per claim

Example:
  veridict batch claims.txt
  veridict batch claims.txt --concurrency 4 --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 3, "sessions in flight at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./veridict-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")

	batchCmd.Flags().IntVar(&workers, "workers", 5, "worker slots per round")
	batchCmd.Flags().IntVar(&roundCap, "rounds", 3, "max rounds before forced finalize")
	batchCmd.Flags().IntVar(&revisionCap, "revisions", 2, "max revision cycles per task")
	batchCmd.Flags().IntVar(&minSources, "min-sources", 2, "minimum citations per submission")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the evidence page cache")
	batchCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")

	batchCmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable the LLM-backed collaborators")
	batchCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai)")
	batchCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	claims, err := readClaimsFromFile(file)
	if err != nil {
		return fmt.Errorf("read claims: %w", err)
	}
	if len(claims) == 0 {
		return fmt.Errorf("no claims in %s", file)
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	orch, err := buildOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Verifying %d claim(s), %d session(s) in flight\n\n", len(claims), concurrency)

	renderer := report.NewRenderer(cfg.Output.IncludeFooter)
	results := make([]*model.Report, len(claims))
	errs := make([]error, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, text := range claims {
		i, text := i, text
		g.Go(func() error {
			claim := model.Claim{Text: text, SubmittedVia: "batch"}
			rep, err := orch.Check(gctx, claim, nil)
			results[i], errs[i] = rep, err
			// Per-claim failures are reported individually, not fatally.
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	successCount, failureCount := 0, 0
	for i, rep := range results {
		if errs[i] != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", truncateClaim(claims[i]), errs[i])
			continue
		}
		successCount++

		slug := sanitizeFilename(fmt.Sprintf("claim-%03d", i+1))
		if err := renderer.RenderJSON(rep, filepath.Join(outputDir, slug+".json")); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: write JSON: %v\n", slug, err)
			continue
		}
		if err := renderer.RenderMarkdown(rep, filepath.Join(outputDir, slug+".md")); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: write Markdown: %v\n", slug, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %s → %s (%d round(s))\n", truncateClaim(claims[i]), rep.Verdict, rep.RoundsRun)
	}

	fmt.Fprintf(os.Stderr, "\nDone: %d verified, %d failed, reports in %s\n", successCount, failureCount, outputDir)
	return nil
}

// readClaimsFromFile reads claims from a file (one per line), skipping
// blanks, comments and duplicates.
func readClaimsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var claims []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			claims = append(claims, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return claims, nil
}

func truncateClaim(s string) string {
	if len(s) <= 60 {
		return s
	}
	return s[:59] + "…"
}

// sanitizeFilename sanitizes a string for use as a filename.
func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "-",
	)
	s = replacer.Replace(s)
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
