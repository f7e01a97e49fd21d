package main

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nurisoft/contractdesk/internal/extract"
	"github.com/nurisoft/contractdesk/internal/model"
)

var (
	extractEngine  string
	extractWorkers int
)

// extractResult is one line of the JSON report emitted by the extract command.
type extractResult struct {
	File              string         `json:"file"`
	Engine            model.Engine   `json:"engine,omitempty"`
	OverallConfidence float64        `json:"overall_confidence,omitempty"`
	NeedsReview       bool           `json:"needs_review,omitempty"`
	Fields            model.FieldMap `json:"fields,omitempty"`
	Cost              *model.Cost    `json:"cost,omitempty"`
	Error             string         `json:"error,omitempty"`
}

var extractCmd = &cobra.Command{
	Use:   "extract <file-or-dir>",
	Short: "Extract contract fields from documents and print JSON results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractEngine != string(model.EngineRegex) {
			if err := cfg.Validate("extract"); err != nil {
				return eris.Wrap(err, "config")
			}
		}

		files, err := collectDocuments(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return eris.Errorf("no extractable documents under %s", args[0])
		}

		orch := buildOrchestrator()
		preferred := model.Engine(extractEngine)

		var mu sync.Mutex
		results := make([]extractResult, 0, len(files))

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(extractWorkers)
		for _, path := range files {
			g.Go(func() error {
				data, err := os.ReadFile(path)
				if err != nil {
					return eris.Wrapf(err, "read %s", path)
				}

				r := extractResult{File: path}
				res, err := orch.Analyze(ctx, extract.Document{
					Ref:  filepath.Base(path),
					Data: data,
					MIME: documentMIME(path),
				}, preferred)
				if err != nil {
					r.Error = err.Error()
					zap.L().Warn("extraction failed", zap.String("file", path), zap.Error(err))
				} else {
					r.Engine = res.Engine
					r.OverallConfidence = res.OverallConfidence
					r.NeedsReview = res.NeedsReview
					r.Fields = res.FieldMap
					r.Cost = res.Cost
				}

				mu.Lock()
				results = append(results, r)
				mu.Unlock()

				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)

		return eris.Wrap(enc.Encode(results), "encode results")
	},
}

// collectDocuments resolves the argument to a list of document paths. A file
// argument is returned as-is; a directory is walked recursively for files
// with a supported extension.
func collectDocuments(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", root)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && documentMIME(path) != "" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", root)
	}

	return files, nil
}

func documentMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return ""
}

func init() {
	extractCmd.Flags().StringVar(&extractEngine, "engine", "", "preferred engine: regex or vision")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 4, "concurrent extractions")
	rootCmd.AddCommand(extractCmd)
}
