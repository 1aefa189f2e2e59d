// Command waxrag is the operational entry point shipped alongside the
// waxrag store library: create/inspect/verify a .mv2s file and exercise
// the orchestrator's remember/recall surface from a shell — a minimal
// operator tool scoped to this module's actual operations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/waxrag/waxrag/orchestrator"
	"github.com/waxrag/waxrag/search"
	"github.com/waxrag/waxrag/waxstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "put":
		err = runPut(args)
	case "verify":
		err = runVerify(args)
	case "remember":
		err = runRemember(args)
	case "recall":
		err = runRecall(args)
	case "inspect":
		err = runInspect(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "waxrag %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: waxrag <command> [flags]

commands:
  create <path>
  put <path> <bytes-file>
  verify <path> [--deep]
  remember <path> <text-file>
  recall <path> <query>
  inspect <path>`)
}

func runCreate(args []string) error {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	walSize := fs.Uint64("wal-size", waxstore.DefaultWalSize, "WAL ring size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("path required")
	}
	st, err := waxstore.Create(fs.Arg(0), waxstore.CreateOptions{WalSize: *walSize})
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Printf("created %s\n", fs.Arg(0))
	return nil
}

func runPut(args []string) error {
	fs := pflag.NewFlagSet("put", pflag.ContinueOnError)
	kind := fs.String("kind", "", "optional frame kind tag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("path and bytes-file required")
	}
	content, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return err
	}
	st, err := waxstore.Open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer st.Close()

	in := waxstore.PutInput{Content: content}
	if *kind != "" {
		in.HasKind, in.Kind = true, *kind
	}
	id, err := st.Put(in)
	if err != nil {
		return err
	}
	if err := st.Commit(); err != nil {
		return err
	}
	fmt.Printf("put frame %d\n", id)
	return nil
}

func runVerify(args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	deep := fs.Bool("deep", false, "re-hash every live frame's payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("path required")
	}
	st, err := waxstore.Open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := st.Verify(*deep)
	fmt.Printf("checked %d frame(s)\n", report.FramesChecked)
	for _, e := range report.Errors {
		fmt.Printf("  - %v\n", e)
	}
	return err
}

func runRemember(args []string) error {
	fs := pflag.NewFlagSet("remember", pflag.ContinueOnError)
	targetTokens := fs.Int("target-tokens", 200, "chunk size in whitespace-delimited words")
	overlapTokens := fs.Int("overlap-tokens", 20, "chunk overlap in words")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("path and text-file required")
	}
	content, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return err
	}

	o, err := orchestrator.New(fs.Arg(0), orchestrator.Config{
		EnableTextSearch: true,
		Chunking:         orchestrator.ChunkingConfig{TargetTokens: *targetTokens, OverlapTokens: *overlapTokens},
		IngestBatchSize:  16,
		RAG: orchestrator.RAGConfig{
			SearchMode: search.ModeTextOnly, SearchTopK: 10, MaxSnippets: 5,
			PreviewMaxBytes: 240, MaxContextTokens: 2000, SnippetMaxTokens: 200, ExpansionMaxTokens: 400,
		},
	}, nil)
	if err != nil {
		return err
	}
	defer o.Close()

	ids, err := o.Remember(context.Background(), string(content), nil)
	if err != nil {
		return err
	}
	if err := o.Flush(); err != nil {
		return err
	}
	fmt.Printf("remembered %d chunk(s): %v\n", len(ids), ids)
	return nil
}

func runRecall(args []string) error {
	fs := pflag.NewFlagSet("recall", pflag.ContinueOnError)
	topK := fs.Int("top-k", 5, "max results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("path and query required")
	}

	o, err := orchestrator.New(fs.Arg(0), orchestrator.Config{
		EnableTextSearch: true,
		Chunking:         orchestrator.ChunkingConfig{TargetTokens: 200, OverlapTokens: 20},
		IngestBatchSize:  16,
		RAG: orchestrator.RAGConfig{
			SearchMode: search.ModeTextOnly, SearchTopK: *topK, MaxSnippets: *topK,
			PreviewMaxBytes: 240, MaxContextTokens: 2000, SnippetMaxTokens: 200, ExpansionMaxTokens: 400,
		},
	}, nil)
	if err != nil {
		return err
	}
	defer o.Close()

	resp, err := o.Recall(context.Background(), fs.Arg(1), nil)
	if err != nil {
		return err
	}
	for _, item := range resp.Items {
		fmt.Printf("[%d] score=%.4f %s\n", item.FrameID, item.Score, item.Text)
	}
	fmt.Printf("--- %d token(s)\n", resp.TotalTokens)
	return nil
}

func runInspect(args []string) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("path required")
	}
	st, err := waxstore.Open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer st.Close()

	layout := st.Inspect()
	stats := st.Stats()
	walStats := st.WalStats()
	fmt.Printf("wal:    offset=%d size=%d\n", layout.WalOffset, layout.WalSize)
	fmt.Printf("data:   offset=%d\n", layout.DataOffset)
	fmt.Printf("toc:    version=%d frames=%d\n", layout.TocVersion, layout.FrameCount)
	fmt.Printf("footer: offset=%d generation=%d\n", layout.FooterOffset, layout.Generation)
	fmt.Printf("frames: live=%d deleted=%d\n", stats.LiveFrames, stats.DeletedFrames)
	fmt.Printf("wal stats: %+v\n", walStats)
	return nil
}
