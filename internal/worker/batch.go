package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/orchestrator"
)

// Analyzer runs one analysis
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*orchestrator.Outcome, error)
}

// AnalyzeJob analyses one fragment
type AnalyzeJob struct {
	Index    int
	Request  model.AnalysisRequest
	Analyzer Analyzer
}

// Execute executes the analysis job
func (j *AnalyzeJob) Execute(ctx context.Context) Result {
	outcome, err := j.Analyzer.Analyze(ctx, j.Request)
	return &AnalyzeResult{
		Index:   j.Index,
		Text:    j.Request.Text,
		Outcome: outcome,
		Error:   err,
	}
}

// AnalyzeResult represents the result of an analysis job
type AnalyzeResult struct {
	Index   int
	Text    string
	Outcome *orchestrator.Outcome
	Error   error
}

// GetError returns the error from the analysis result
func (r *AnalyzeResult) GetError() error {
	return r.Error
}

// BatchProcessor analyses multiple fragments concurrently
type BatchProcessor struct {
	analyzer    Analyzer
	concurrency int
	onResult    func(*AnalyzeResult)
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(analyzer Analyzer, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

// OnResult registers a progress callback, called once per fragment as it completes
func (b *BatchProcessor) OnResult(fn func(*AnalyzeResult)) {
	b.onResult = fn
}

// Process analyses every request and returns results in input order
func (b *BatchProcessor) Process(ctx context.Context, reqs []model.AnalysisRequest) []*AnalyzeResult {
	if len(reqs) == 0 {
		return []*AnalyzeResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	if b.onResult != nil {
		pool.OnResult(func(r Result) { b.onResult(r.(*AnalyzeResult)) })
	}
	pool.Start()

	for i, req := range reqs {
		if !pool.Submit(&AnalyzeJob{Index: i, Request: req, Analyzer: b.analyzer}) {
			break
		}
	}

	results := pool.Wait()

	out := make([]*AnalyzeResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*AnalyzeResult))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ProcessFile reads fragments from a file and analyses them with the given attitude
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string, attitude model.AttitudeMode, source model.SourceType) ([]*AnalyzeResult, error) {
	fragments, err := ReadFragmentsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read fragments: %w", err)
	}

	reqs := make([]model.AnalysisRequest, 0, len(fragments))
	for _, f := range fragments {
		reqs = append(reqs, model.NewRequest(f, attitude, source, ""))
	}
	return b.Process(ctx, reqs), nil
}

// ReadFragmentsFromFile reads fragments from a file (one per line)
func ReadFragmentsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadFragments(file)
}

// ReadFragments reads one fragment per line, skipping blanks and # comments.
// Duplicates are dropped, keeping the first occurrence.
func ReadFragments(r io.Reader) ([]string, error) {
	var fragments []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			fragments = append(fragments, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return fragments, nil
}
