// Package pipeline orchestrates a lecture run: slides move through upload,
// analysis, parsing, compilation, and ordered appending, with one shared
// conversation transcript driving the analysis lane.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/lectern/internal/ast"
	"github.com/jackzampolin/lectern/internal/blocks"
	"github.com/jackzampolin/lectern/internal/conversation"
	"github.com/jackzampolin/lectern/internal/coordinator"
	"github.com/jackzampolin/lectern/internal/gateway"
	"github.com/jackzampolin/lectern/internal/prompts"
)

// Stage identifies a slide's position in its lifecycle. A failed slide
// records the stage it failed in.
type Stage string

const (
	StagePending        Stage = "pending"
	StageImageUploading Stage = "image_uploading"
	StageAnalyzing      Stage = "analyzing"
	StageParsing        Stage = "parsing"
	StageCompiling      Stage = "compiling"
	StageAppending      Stage = "appending"
	StageDone           Stage = "done"
)

// Outcome is the terminal state of one slide.
type Outcome struct {
	Slide    int   // 1-based slide number
	Stage    Stage // StageDone, or the stage that failed
	Excluded bool  // slide was excluded from analysis (image still uploaded)
	Err      error // nil when Stage == StageDone
}

// Failed reports whether the slide ended in a failure.
func (o Outcome) Failed() bool { return o.Stage != StageDone }

// Report summarizes a lecture run.
type Report struct {
	RunID     string
	Course    string
	PageID    string
	Slides    []Outcome
	Summary   error // nil if the summary section landed
	Questions error // nil if the practice questions section landed
}

// FailedSlides returns the slide numbers that did not complete.
func (r *Report) FailedSlides() []int {
	var failed []int
	for _, o := range r.Slides {
		if o.Failed() {
			failed = append(failed, o.Slide)
		}
	}
	return failed
}

// Config wires the pipeline's collaborators.
type Config struct {
	Gateway       gateway.Client
	Uploader      coordinator.Uploader
	Appender      coordinator.Appender
	Compiler      *blocks.Compiler
	UploadWorkers int
	Logger        *slog.Logger
}

// Pipeline runs lectures. Safe for sequential reuse; one Run per lecture.
type Pipeline struct {
	gateway  gateway.Client
	uploads  *coordinator.UploadPool
	appender coordinator.Appender
	compiler *blocks.Compiler
	parser   *ast.Parser
	logger   *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if cfg.Appender == nil {
		return nil, fmt.Errorf("appender is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Compiler == nil {
		cfg.Compiler = blocks.NewCompiler(blocks.DefaultLimits(), cfg.Logger)
	}

	return &Pipeline{
		gateway:  cfg.Gateway,
		uploads:  coordinator.NewUploadPool(cfg.Uploader, cfg.UploadWorkers, cfg.Logger),
		appender: cfg.Appender,
		compiler: cfg.Compiler,
		parser:   ast.NewParser(cfg.Logger),
		logger:   cfg.Logger.With("component", "pipeline"),
	}, nil
}

// Request describes one lecture run.
type Request struct {
	Course  string
	PageID  string       // destination page
	Images  [][]byte     // rasterized slides, in slide order
	Exclude map[int]bool // 1-based slide numbers to skip analysis for
}

// slideWork tracks one slide's two concurrent legs.
type slideWork struct {
	index    int // 0-based commit index
	image    []byte
	excluded bool

	uploadID   string
	uploadErr  error
	uploadDone chan struct{}

	markup      string
	analysisErr error
	analyzeDone chan struct{}
}

// Run processes every slide, then appends the lecture summary and practice
// questions sections. Per-slide failures are downgraded to Failed outcomes;
// Run returns an error only when the whole lecture cannot proceed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	if len(req.Images) == 0 {
		return nil, fmt.Errorf("no slides to process")
	}
	if req.PageID == "" {
		return nil, fmt.Errorf("destination page is required")
	}

	report := &Report{
		RunID:  uuid.New().String(),
		Course: req.Course,
		PageID: req.PageID,
		Slides: make([]Outcome, len(req.Images)),
	}
	log := p.logger.With("run_id", report.RunID, "course", req.Course)
	log.Info("starting lecture run", "slides", len(req.Images), "excluded", len(req.Exclude))

	transcript := conversation.New(prompts.System(req.Course))
	committer := coordinator.NewCommitter(p.appender, req.PageID, 0, p.logger)

	work := make([]*slideWork, len(req.Images))
	for i, img := range req.Images {
		work[i] = &slideWork{
			index:       i,
			image:       img,
			excluded:    req.Exclude[i+1],
			uploadDone:  make(chan struct{}),
			analyzeDone: make(chan struct{}),
		}
	}

	// Image uploads fan out immediately; they are order-insensitive.
	for _, w := range work {
		go func(w *slideWork) {
			defer close(w.uploadDone)
			filename := fmt.Sprintf("slide_%04d.png", w.index+1)
			w.uploadID, w.uploadErr = p.uploads.Upload(ctx, filename, w.image)
		}(w)
	}

	// Tails join both legs and commit in slide order.
	var wg sync.WaitGroup
	for _, w := range work {
		wg.Add(1)
		go func(w *slideWork) {
			defer wg.Done()
			report.Slides[w.index] = p.commitSlide(ctx, committer, w)
		}(w)
	}

	// The analysis lane is strictly sequential: each call replays the
	// transcript, so slide i+1 must see slide i's explanation.
	for _, w := range work {
		p.analyzeSlide(ctx, transcript, w)
	}

	// Summary and questions run over the completed transcript and take the
	// next two commit slots, so they land after the last slide.
	n := len(work)
	closing := transcript.Snapshot()

	var closingWG sync.WaitGroup
	runSection := func(index int, title, instruction string, dst *error) {
		defer closingWG.Done()
		batches, err := p.closingSection(ctx, closing, title, instruction)
		if err != nil {
			*dst = err
			if cerr := committer.Commit(ctx, index, nil); cerr != nil {
				log.Warn("failed to release closing section slot", "index", index, "error", cerr)
			}
			return
		}
		*dst = committer.Commit(ctx, index, batches)
	}

	closingWG.Add(2)
	go runSection(n, summaryTitle, prompts.SummaryInstruction, &report.Summary)
	go runSection(n+1, questionsTitle, prompts.QuestionsInstruction, &report.Questions)

	wg.Wait()
	closingWG.Wait()

	log.Info("lecture run finished",
		"slides", len(report.Slides),
		"failed", len(report.FailedSlides()),
		"summary_ok", report.Summary == nil,
		"questions_ok", report.Questions == nil)
	return report, nil
}

const (
	summaryTitle   = "\U0001F4DD Lecture Summary"
	questionsTitle = "❓ Practice Questions"
)

// analyzeSlide runs one slide through the model and records the turn pair.
// Failures leave the transcript untouched apart from a skip marker, so later
// slides see a consistent prefix.
func (p *Pipeline) analyzeSlide(ctx context.Context, transcript *conversation.Transcript, w *slideWork) {
	defer close(w.analyzeDone)
	slide := w.index + 1

	if w.excluded {
		if err := transcript.RecordSkip(slide); err != nil {
			w.analysisErr = err
		}
		return
	}

	markup, err := p.gateway.AnalyzeSlide(ctx, transcript.Snapshot(), w.image, prompts.AnalyzeInstruction)
	if err != nil {
		p.logger.Warn("slide analysis failed", "slide", slide, "error", err)
		w.analysisErr = err
		if serr := transcript.RecordSkip(slide); serr != nil {
			p.logger.Error("transcript skip rejected", "slide", slide, "error", serr)
		}
		return
	}

	if err := transcript.AppendUser(w.image, prompts.AnalyzeInstruction, slide); err != nil {
		w.analysisErr = fmt.Errorf("record user turn: %w", err)
		return
	}
	if err := transcript.AppendAssistant(markup, slide); err != nil {
		w.analysisErr = fmt.Errorf("record assistant turn: %w", err)
		return
	}
	w.markup = markup
}

// commitSlide joins a slide's upload and analysis legs, lowers the result to
// blocks, and commits it at the slide's index. It always commits, even with
// no batches, so the release cursor never stalls on a failed slide.
func (p *Pipeline) commitSlide(ctx context.Context, committer *coordinator.Committer, w *slideWork) Outcome {
	<-w.uploadDone
	<-w.analyzeDone

	slide := w.index + 1
	outcome := Outcome{Slide: slide, Stage: StageDone, Excluded: w.excluded}

	var content []blocks.Block
	if w.uploadErr == nil {
		content = append(content, blocks.Image(w.uploadID))
	}
	if w.markup != "" {
		nodes := p.parser.Parse(w.markup)
		content = append(content, p.compiler.Lower(nodes)...)
	}
	if len(content) > 0 {
		content = append(content, blocks.Divider(), blocks.Spacer())
	}

	err := committer.Commit(ctx, w.index, p.compiler.Batch(content))
	switch {
	case w.uploadErr != nil:
		outcome.Stage = StageImageUploading
		outcome.Err = w.uploadErr
	case w.analysisErr != nil:
		outcome.Stage = StageAnalyzing
		outcome.Err = w.analysisErr
	case err != nil:
		outcome.Stage = StageAppending
		outcome.Err = err
	}

	if outcome.Failed() {
		p.logger.Warn("slide failed", "slide", slide, "stage", outcome.Stage, "error", outcome.Err)
	} else {
		p.logger.Debug("slide done", "slide", slide, "excluded", w.excluded)
	}
	return outcome
}

// closingSection generates one end-of-lecture section and compiles it under
// a top-level heading.
func (p *Pipeline) closingSection(ctx context.Context, snapshot []conversation.Turn, title, instruction string) ([][]blocks.Block, error) {
	markup, err := p.gateway.Summarize(ctx, snapshot, instruction)
	if err != nil {
		return nil, fmt.Errorf("generate %q: %w", title, err)
	}

	content := []blocks.Block{blocks.Heading1(title)}
	content = append(content, p.compiler.Lower(p.parser.Parse(markup))...)
	return p.compiler.Batch(content), nil
}
