// Smoke test that sends one sample claim to every configured provider directly,
// without fallback or history, and prints what each returns
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/registry"
)

const sampleClaim = "Humans only use 10 percent of their brains, so brain-training apps unlock the rest."

func main() {
	claim := flag.String("claim", sampleClaim, "text to analyse")
	attitude := flag.String("attitude", "balanced", "argumentative, balanced or helpful")
	timeout := flag.Duration("timeout", 60*time.Second, "per-provider timeout")
	flag.Parse()

	_ = godotenv.Load()

	att, err := model.ParseAttitude(*attitude)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := model.DefaultConfig()
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		switch pc.Type {
		case "openai":
			pc.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			pc.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			pc.APIKey = os.Getenv("GEMINI_API_KEY")
		case "ollama":
			if u := os.Getenv("OLLAMA_BASE_URL"); u != "" {
				pc.BaseURL = u
			}
		}
	}

	reg, err := registry.New(cfg.Providers)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("=== Provider Smoke Test ===")
	fmt.Printf("Claim: %s\n\n", *claim)

	for _, s := range reg.Status() {
		if !s.Enabled || !s.Available {
			fmt.Printf("%-10s skipped: %s\n", s.Name, s.Reason)
		}
	}
	fmt.Println()

	req := model.NewRequest(*claim, att, model.SourceSelection, "")
	failed := 0
	for _, c := range reg.OrderedCandidates() {
		fmt.Printf("%s (%s, priority %d)\n", c.Name, c.Type, c.Priority)
		fmt.Println(strings.Repeat("-", 60))

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		res, err := c.Provider.Analyze(ctx, req)
		cancel()

		if err != nil {
			failed++
			fmt.Printf("  ✗ %s after %s: %v\n\n", model.Classify(err), time.Since(start).Round(time.Millisecond), err)
			continue
		}
		fmt.Printf("  ✓ verdict %q, confidence %.2f, %s\n", res.Verdict, res.ConfidenceScore, time.Since(start).Round(time.Millisecond))
		fmt.Printf("    %s\n", res.Explanation)
		for _, ca := range res.CounterArguments {
			fmt.Printf("    - %s\n", ca)
		}
		fmt.Println()
	}

	if failed > 0 {
		os.Exit(1)
	}
}
