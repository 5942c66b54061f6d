package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"ragchat/internal/adapter/fs"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

var (
	ingestIncludes []string
	ingestExcludes []string
	ingestForce    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest documents into the index",
	Long: `Extract, chunk and embed files, waiting for each to finish.
Directories are walked recursively; files are matched against the include
globs. A file whose name was ingested before replaces that document, and
unchanged files are skipped.

Examples:
  ragchat ingest ./handbook
  ragchat ingest report.pdf notes.md
  ragchat ingest ./docs --include "**/*.pdf" --exclude "drafts/"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringSliceVar(&ingestIncludes, "include", nil, "glob patterns to ingest (default: txt, md, markdown, pdf)")
	ingestCmd.Flags().StringSliceVar(&ingestExcludes, "exclude", nil, "glob patterns to skip (default: hidden directories)")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-ingest files even when unchanged")
}

type ingestSummary struct {
	mu       sync.Mutex
	ingested int
	skipped  int
	chunks   int
	failures []string
}

func (s *ingestSummary) record(f func(s *ingestSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	walker := fs.NewWalker(ingestIncludes, ingestExcludes)
	var files []fs.FileInfo
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		found, err := walker.Walk(path)
		if err != nil {
			return fmt.Errorf("scan %s: %w", arg, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		fmt.Println("No supported files found.")
		return nil
	}

	a, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if needsReindex, err := a.reindex.Prepare(); err != nil {
		return fmt.Errorf("failed to prepare index: %w", err)
	} else if needsReindex {
		return fmt.Errorf("the index was built with different chunking or embedding settings; run `ragchat reindex --all` first")
	}

	existing, err := a.docs.List(owner)
	if err != nil {
		return err
	}
	byName := make(map[string]domain.Document, len(existing))
	for _, doc := range existing {
		byName[doc.Name] = doc
	}

	fmt.Printf("Ingesting %d files...\n", len(files))
	bar := newProgressBar(len(files), "[cyan]Ingesting[reset]")
	startTime := time.Now()

	summary := &ingestSummary{}
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Ingest.Workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			defer func() {
				bar.Add(1)
				describeETA(bar, startTime, int(done.Add(1)), len(files), "Ingesting")
			}()

			data, err := os.ReadFile(f.Path)
			if err != nil {
				summary.record(func(s *ingestSummary) {
					s.failures = append(s.failures, fmt.Sprintf("%s: %v", f.RelPath, err))
				})
				return nil
			}

			req := usecase.UploadRequest{Name: f.RelPath, Owner: owner, Format: string(f.Format), Data: data}
			if prev, ok := byName[f.RelPath]; ok {
				if !ingestForce && prev.Status == domain.StatusReady && prev.ContentHash == usecase.ContentHash(data) {
					summary.record(func(s *ingestSummary) { s.skipped++ })
					return nil
				}
				req.ID = prev.ID
			}

			doc, err := a.docs.Store(req)
			if err == nil {
				doc, err = a.ingest.Ingest(gctx, doc.ID)
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			summary.record(func(s *ingestSummary) {
				if err != nil {
					s.failures = append(s.failures, fmt.Sprintf("%s: [%s] %v", f.RelPath, domain.Kind(err), err))
					return
				}
				s.ingested++
				s.chunks += doc.ChunkCount
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Files ingested: %d\n", summary.ingested)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", summary.skipped)
	fmt.Printf("  Chunks created: %d\n", summary.chunks)
	if len(summary.failures) > 0 {
		fmt.Printf("\nFailures:\n")
		for _, e := range summary.failures {
			fmt.Printf("  - %s\n", e)
		}
	}
	fmt.Printf("\nIndex stored at: %s\n", cfg.Storage.Path)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(summary.failures) > 0 {
		return fmt.Errorf("%d of %d files failed", len(summary.failures), len(files))
	}
	return nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

func describeETA(bar *progressbar.ProgressBar, start time.Time, processed, total int, verb string) {
	if processed <= 0 {
		return
	}
	elapsed := time.Since(start)
	rate := float64(processed) / elapsed.Seconds()
	remaining := total - processed
	if rate > 0 {
		eta := time.Duration(float64(remaining)/rate) * time.Second
		bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", verb, formatDuration(eta)))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
