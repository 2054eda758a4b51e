package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"veridict/internal/cache"
	"veridict/internal/fetch"
	"veridict/internal/llm"
	"veridict/internal/model"
	"veridict/internal/orchestrate"
	"veridict/internal/report"
)

var (
	outJSON      string
	outMD        string
	checkTimeout time.Duration
	workers      int
	roundCap     int
	revisionCap  int
	minSources   int
	noCache      bool
	noFooter     bool
	attachments  []string
	descFiles    []string
	llmEnabled   bool
	llmProvider  string
	llmModel     string
	llmBaseURL   string
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <claim>",
	Short: "Fact-check a single claim and generate a verdict report",
	Long: `Check runs the full verification protocol for one claim:
- Decompose the claim into at most 5 atomic propositions
- Dispatch complementary research tasks to parallel workers
- Review every submission against evidentiary minimums
- Re-dispatch unresolved or conflicting propositions for up to 3 rounds
- Issue one terminal verdict with the supporting evidence trail

Example:
  veridict check "Laksa originated in Singapore in the 19th century"
  veridict check "..." --llm --llm-model gpt-4o-mini --md report.md
  veridict check "..." --attach screenshot.png`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	// Output flags
	checkCmd.Flags().StringVar(&outJSON, "json", "report.json", "output JSON path")
	checkCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	checkCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")

	// Protocol flags
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Minute, "overall session timeout")
	checkCmd.Flags().IntVar(&workers, "workers", 5, "worker slots per round")
	checkCmd.Flags().IntVar(&roundCap, "rounds", 3, "max rounds before forced finalize")
	checkCmd.Flags().IntVar(&revisionCap, "revisions", 2, "max revision cycles per task")
	checkCmd.Flags().IntVar(&minSources, "min-sources", 2, "minimum citations per submission")
	checkCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the evidence page cache")

	// Input flags
	checkCmd.Flags().StringSliceVar(&attachments, "attach", nil, "media files to describe and fold into the claim")
	checkCmd.Flags().StringSliceVar(&descFiles, "desc-file", nil, "text files appended to the claim as descriptions")

	// LLM flags
	checkCmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable the LLM-backed collaborators")
	checkCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai)")
	checkCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	checkCmd.Flags().StringVar(&llmBaseURL, "llm-base-url", "", "OpenAI-compatible endpoint override")
}

func runCheck(cmd *cobra.Command, args []string) error {
	claimText := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

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

	claim := model.Claim{Text: claimText, SubmittedVia: "cli"}
	for _, path := range descFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read description file: %w", err)
		}
		claim.Descriptions = append(claim.Descriptions, string(data))
	}

	atts, err := collectAttachments(attachments)
	if err != nil {
		return err
	}

	rep, err := orch.Check(ctx, claim, atts)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	renderer := report.NewRenderer(!noFooter)
	if outJSON != "" {
		if err := renderer.RenderJSON(rep, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := renderer.RenderMarkdown(rep, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}
	renderer.RenderSummary(rep, os.Stdout)
	return nil
}

// buildConfig assembles the immutable session configuration from flags,
// environment and config file.
func buildConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	cfg.Protocol.Workers = workers
	cfg.Protocol.RoundCap = roundCap
	cfg.Protocol.RevisionCap = revisionCap
	cfg.Protocol.MinSources = minSources
	cfg.Cache.Enabled = !noCache
	cfg.Output.Verbose = verbose
	cfg.Output.IncludeFooter = !noFooter

	if llmEnabled {
		cfg.LLM.Provider = llmProvider
		cfg.LLM.Model = llmModel
		cfg.LLM.BaseURL = llmBaseURL

		switch llmProvider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
			if cfg.LLM.APIKey == "" {
				return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
			}
		}
	}
	return cfg, nil
}

// buildOrchestrator wires the cache, evidence fetcher, collaborators and
// facade together.
func buildOrchestrator(cfg *model.Config, log *zap.Logger) (*orchestrate.Orchestrator, error) {
	var store cache.Cache
	if cfg.Cache.Enabled {
		dir := cfg.Cache.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("find home directory: %w", err)
			}
			dir = filepath.Join(home, ".veridict", "cache")
		}
		store = cache.NewLayeredCache(cfg.Cache.MemoryTTL, dir, cfg.Cache.DiskTTL)
	}

	fetcher := fetch.New(cfg.HTTP, cfg.RateLimit, store)

	collab, err := llm.NewCollaborators(llm.ConfigFromModel(cfg.LLM, cfg.Protocol.SystemPrompt), fetcher)
	if err != nil {
		return nil, fmt.Errorf("init collaborators: %w", err)
	}
	return orchestrate.New(cfg, collab, log), nil
}

// collectAttachments stats each media path and builds attachment
// records. Oversized files are rejected up front.
func collectAttachments(paths []string) ([]model.Attachment, error) {
	const maxAttachmentBytes = 50 * 1024 * 1024

	var atts []model.Attachment
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat attachment: %w", err)
		}
		if info.Size() > maxAttachmentBytes {
			return nil, fmt.Errorf("attachment %s exceeds the %dMB limit", path, maxAttachmentBytes/(1024*1024))
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		atts = append(atts, model.Attachment{
			Name:      filepath.Base(path),
			MimeType:  mimeType,
			Path:      path,
			SizeBytes: info.Size(),
		})
	}
	return atts, nil
}
