// import-labels downloads drug labels from openFDA and stores them in the labels table, or
// writes them as a labels file for LABELS_SOURCE=file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rxlabels/labelhub/internal/backends"
	"github.com/rxlabels/labelhub/internal/config"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/repository"
	"github.com/rxlabels/labelhub/pkg/database"
	"github.com/rxlabels/labelhub/pkg/openfda"
)

var errStoreNeedsPostgres = errors.New("importing into the labels table needs LABELS_SOURCE=postgres; use --out to write a labels file")

type options struct {
	search   string
	limit    int
	pageSize int
	out      string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "import-labels",
		Short: "Import drug labels from openFDA",
		Long: `Download drug labels from the openFDA label endpoint (OPENFDA_BASE_URL, optional
OPENFDA_API_KEY) and upsert them into the labels table.

With --out the labels are written to a JSON file in the native label format instead,
ready to be served with LABELS_SOURCE=file. Run backfill-embeddings afterwards, or let
the scheduled backfill pick the new labels up.`,
		Example:      `  import-labels --search 'openfda.brand_name:"Taltz"'` + "\n" + `  import-labels --limit 500 --out labels.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.search, "search", "", "openFDA search expression (default: all labels)")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "Maximum number of labels to import (0 for all)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 100, "Labels per openFDA request (max 1000)")
	cmd.Flags().StringVar(&opts.out, "out", "", "Write labels to this JSON file instead of the database")

	return cmd
}

func runImport(ctx context.Context, opts options) error {
	cfg, err := config.LoadForTool()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.SetDefault(observability.NewLogger(os.Stderr, cfg.LogLevel))

	if opts.out == "" && cfg.LabelsSource != config.LabelsSourcePostgres {
		return errStoreNeedsPostgres
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := openfda.NewClient(openfda.Options{
		BaseURL: cfg.OpenFDABaseURL,
		APIKey:  cfg.OpenFDAAPIKey,
		Logger:  slog.Default(),
	})

	if opts.out != "" {
		collected := &labelCollector{}

		n, err := importLabels(ctx, client, opts, collected)
		if err != nil {
			return err
		}

		if err := writeLabelsFile(opts.out, collected.labels); err != nil {
			return err
		}

		fmt.Printf("Wrote %d label(s) to %s.\n", n, opts.out)

		return nil
	}

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := backends.Migrate(ctx, db, cfg.EmbeddingDimensions); err != nil {
		return err
	}

	n, err := importLabels(ctx, client, opts, repository.NewLabelsRepository(db))
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d label(s).\n", n)

	return nil
}

type labelSink interface {
	Upsert(ctx context.Context, label models.Label) error
}

// importLabels pages through openFDA and upserts every label with an identifier. It returns
// how many labels were stored.
func importLabels(ctx context.Context, client *openfda.Client, opts options, sink labelSink) (int, error) {
	stored := 0

	fetched, err := client.EachPage(ctx, opts.search, opts.pageSize, opts.limit, func(results []json.RawMessage) error {
		labels, err := repository.ParseOpenFDALabels(results)
		if err != nil {
			return err
		}

		for _, l := range labels {
			if err := sink.Upsert(ctx, l); err != nil {
				return fmt.Errorf("store label %s: %w", l.ID, err)
			}

			stored++
		}

		slog.Info("Imported label page", "fetched", len(results), "stored", stored)

		return nil
	})
	if err != nil {
		return stored, fmt.Errorf("import labels: %w", err)
	}

	if skipped := fetched - stored; skipped > 0 {
		slog.Warn("Skipped labels without identifiers", "count", skipped)
	}

	return stored, nil
}

type labelCollector struct {
	labels []models.Label
}

func (c *labelCollector) Upsert(_ context.Context, label models.Label) error {
	c.labels = append(c.labels, label)

	return nil
}

func writeLabelsFile(path string, labels []models.Label) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	defer func() {
		err = errors.Join(err, f.Close())
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(labels); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
