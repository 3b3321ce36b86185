package main

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadforge/internal/enrich"
	"github.com/sells-group/leadforge/internal/model"
	"github.com/sells-group/leadforge/internal/queue"
)

var (
	importCSVPath string
	importEnqueue bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-import leads from a CSV file",
	Long:  "Reads a CSV with a header row (full_name, email, phone, job_title, notes), upserts rows by email, and optionally queues each imported lead for enrichment.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		leads, skipped, err := parseLeadsCSV(importCSVPath)
		if err != nil {
			return err
		}

		n, err := env.Store.BulkUpsertLeads(ctx, leads)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		enqueued := 0
		if importEnqueue {
			for _, l := range leads {
				stored, err := env.Store.GetLeadByEmail(ctx, l.Email)
				if err != nil || stored == nil {
					zap.L().Warn("skipping enqueue", zap.String("email", l.Email), zap.Error(err))
					continue
				}
				if _, err := env.Queue.Enqueue(ctx, queue.NewTask(queue.KindEnrich, stored.ID)); err != nil {
					zap.L().Warn("enqueue enrichment", zap.Int64("lead_id", stored.ID), zap.Error(err))
					continue
				}
				enqueued++
			}
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.Int("skipped", skipped),
			zap.Int("enqueued", enqueued),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().BoolVar(&importEnqueue, "enqueue", false, "queue imported leads for enrichment")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}

// parseLeadsCSV reads the file into leads, skipping rows without a usable
// email. The first row must be a header naming the columns.
func parseLeadsCSV(path string) ([]model.Lead, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "open csv %s", path)
	}
	defer f.Close()

	return readLeadsCSV(f)
}

func readLeadsCSV(r io.Reader) ([]model.Lead, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "read csv header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["email"]; !ok {
		return nil, 0, eris.New("csv missing email column")
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var leads []model.Lead
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, eris.Wrap(err, "read csv record")
		}

		email := strings.ToLower(field(record, "email"))
		if _, err := enrich.Domain(email); err != nil {
			zap.L().Warn("skipping row with invalid email", zap.String("email", email))
			skipped++
			continue
		}

		leads = append(leads, model.Lead{
			FullName: field(record, "full_name"),
			Email:    email,
			Phone:    field(record, "phone"),
			JobTitle: field(record, "job_title"),
			Notes:    field(record, "notes"),
			Source:   model.LeadSourceCSV,
		})
	}
	return leads, skipped, nil
}
