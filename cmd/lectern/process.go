package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/lectern/internal/blocks"
	"github.com/jackzampolin/lectern/internal/config"
	"github.com/jackzampolin/lectern/internal/gateway"
	"github.com/jackzampolin/lectern/internal/pipeline"
	"github.com/jackzampolin/lectern/internal/rasterize"
	"github.com/jackzampolin/lectern/internal/workspace"
)

var (
	processCourse  string
	processTitle   string
	processExclude string
)

var processCmd = &cobra.Command{
	Use:   "process <lecture.pdf>",
	Short: "Process a lecture PDF and publish it to the course page",
	Long: `Process renders every page of the PDF, explains each slide with the
model, and appends the results to a new child page under the course's
workspace page.

Examples:
  lectern process lecture-07.pdf --course "Reinforcement Learning"
  lectern process intro.pdf --course "Databases" --exclude 1,2,15
  lectern process deck.pdf --course "Databases" --title "Week 3: Indexing"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pdfPath := args[0]

		logger := newLogger()

		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		// A lecture run can take minutes; surface config edits made while it
		// is in flight. Collaborators are built from the snapshot above, so
		// changes land on the next invocation.
		mgr.OnChange(func(*config.Config) {
			logger.Info("config file changed; new settings take effect on the next run")
		})
		mgr.WatchConfig()

		pageID, ok := cfg.PageForCourse(processCourse)
		if !ok {
			return fmt.Errorf("course %q is not configured (known courses: %s)",
				processCourse, strings.Join(cfg.CourseNames(), ", "))
		}

		exclude, err := parseExcludes(processExclude)
		if err != nil {
			return err
		}

		title := processTitle
		if title == "" {
			title = deriveTitle(pdfPath)
		}

		// Render slides to a temp dir, then load them into memory.
		tmpDir, err := os.MkdirTemp("", "lectern-slides-*")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		logger.Info("rendering slides", "file", filepath.Base(pdfPath), "dpi", cfg.Render.DPI)
		paths, err := rasterize.Render(ctx, pdfPath, tmpDir, rasterize.Config{
			DPI:     cfg.Render.DPI,
			Workers: cfg.Render.Workers,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		images := make([][]byte, len(paths))
		for i, p := range paths {
			if images[i], err = os.ReadFile(p); err != nil {
				return fmt.Errorf("failed to read rendered slide: %w", err)
			}
		}

		ws := workspace.New(workspace.Config{
			APIKey:      config.ResolveEnvVars(cfg.Workspace.APIKey),
			Version:     cfg.Workspace.Version,
			Timeout:     time.Duration(cfg.Workspace.TimeoutSeconds) * time.Second,
			MaxAttempts: cfg.Workspace.MaxAttempts,
			RetryBase:   time.Duration(cfg.Workspace.RetryBaseSeconds) * time.Second,
			Logger:      logger,
		})

		gw, err := gateway.NewOpenAI(gateway.Config{
			APIKey:      config.ResolveEnvVars(cfg.OpenAI.APIKey),
			Model:       cfg.OpenAI.Model,
			MaxAttempts: cfg.OpenAI.MaxAttempts,
			RetryBase:   time.Duration(cfg.OpenAI.RetryBaseSeconds) * time.Second,
			Timeout:     time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		// Each lecture gets its own child page under the course page.
		lecturePage, err := ws.CreatePage(ctx, pageID, title)
		if err != nil {
			return fmt.Errorf("failed to create lecture page: %w", err)
		}

		compiler := blocks.NewCompiler(blocks.Limits{
			MaxBlocksPerAppend: cfg.Workspace.MaxBlocksPerAppend,
			MaxRunLength:       cfg.Workspace.MaxRunLength,
		}, logger)

		p, err := pipeline.New(pipeline.Config{
			Gateway:       gw,
			Uploader:      ws,
			Appender:      ws,
			Compiler:      compiler,
			UploadWorkers: cfg.Workspace.UploadWorkers,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		report, err := p.Run(ctx, pipeline.Request{
			Course:  processCourse,
			PageID:  lecturePage,
			Images:  images,
			Exclude: exclude,
		})
		if err != nil {
			return err
		}

		printReport(report, title)
		if failed := report.FailedSlides(); len(failed) > 0 {
			return fmt.Errorf("%d of %d slides failed", len(failed), len(report.Slides))
		}
		return nil
	},
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseExcludes parses a comma-separated list of 1-based slide numbers.
func parseExcludes(s string) (map[int]bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	exclude := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid slide number %q in --exclude", part)
		}
		exclude[n] = true
	}
	return exclude, nil
}

// deriveTitle extracts a lecture title from a PDF filename.
// e.g., "lecture-07-mdps.pdf" -> "lecture-07-mdps"
func deriveTitle(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func printReport(r *pipeline.Report, title string) {
	fmt.Printf("Lecture %q published (run %s)\n", title, r.RunID)
	fmt.Printf("  Slides: %d", len(r.Slides))
	if failed := r.FailedSlides(); len(failed) > 0 {
		fmt.Printf(" (%d failed: %v)", len(failed), failed)
	}
	fmt.Println()
	for _, o := range r.Slides {
		if o.Failed() {
			fmt.Printf("  slide %d: failed at %s: %v\n", o.Slide, o.Stage, o.Err)
		}
	}
	if r.Summary != nil {
		fmt.Printf("  summary section failed: %v\n", r.Summary)
	}
	if r.Questions != nil {
		fmt.Printf("  practice questions failed: %v\n", r.Questions)
	}
}

func init() {
	processCmd.Flags().StringVar(&processCourse, "course", "", "course name (must exist in config)")
	processCmd.Flags().StringVar(&processTitle, "title", "", "lecture page title (default: PDF filename)")
	processCmd.Flags().StringVar(&processExclude, "exclude", "", "comma-separated slide numbers to skip analysis for")
	_ = processCmd.MarkFlagRequired("course")

	rootCmd.AddCommand(processCmd)
}
