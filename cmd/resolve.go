package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/labelmatch/internal/labels"
	"github.com/sells-group/labelmatch/internal/ocr"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [label...]",
	Short: "Resolve shipping labels to known recipients",
	Long: "Resolves each label given as an argument, or every label in --input " +
		"(.txt one per line, .csv or .xlsx by column, .pdf or image through OCR), and prints the matches.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		column, _ := cmd.Flags().GetString("column")
		sheet, _ := cmd.Flags().GetInt("sheet")
		format, _ := cmd.Flags().GetString("format")
		explain, _ := cmd.Flags().GetInt("explain")

		reader, err := documentReader(input)
		if err != nil {
			return err
		}
		opts := labels.Options{Column: column, SheetIndex: sheet, OCR: reader}

		texts, source, err := collectLabels(ctx, args, input, opts)
		if err != nil {
			return err
		}

		env, err := initResolver(ctx, source)
		if err != nil {
			return err
		}
		defer env.Close()

		batch := env.Resolver.ResolveAll(ctx, texts)
		rep := newBatchReport(batch, env.Resolver.Matcher(), env.Resolver.Records(), explain)
		return writeReport(os.Stdout, format, rep)
	},
}

// documentReader returns the configured OCR reader when input is a PDF or
// image, and nil otherwise.
func documentReader(input string) (labels.PageReader, error) {
	if input == "" || !ocr.IsDocument(input) {
		return nil, nil
	}
	reader, err := ocr.New(ocr.Config{
		Provider:      cfg.OCR.Provider,
		PdfToTextPath: cfg.OCR.PdfToTextPath,
		MistralKey:    cfg.OCR.MistralKey,
		MistralModel:  cfg.OCR.MistralModel,
		Timeout:       time.Duration(cfg.OCR.TimeoutSecs) * time.Second,
	})
	if err != nil || reader == nil {
		return nil, err
	}
	return reader, nil
}

// collectLabels returns the label texts and a source tag for the run.
func collectLabels(ctx context.Context, args []string, input string, opts labels.Options) ([]string, string, error) {
	switch {
	case input != "" && len(args) > 0:
		return nil, "", eris.New("pass labels as arguments or --input, not both")
	case input != "":
		texts, err := labels.Read(ctx, input, opts)
		if err != nil {
			return nil, "", eris.Wrap(err, "read labels")
		}
		return texts, input, nil
	case len(args) > 0:
		return args, "args", nil
	}
	return nil, "", eris.New("no labels given (pass them as arguments or use --input)")
}

func init() {
	resolveCmd.Flags().StringP("input", "i", "", "label file (.txt, .csv, .xlsx, .pdf, .png or .jpg)")
	resolveCmd.Flags().String("column", labels.DefaultColumn, "label column for .csv and .xlsx input")
	resolveCmd.Flags().Int("sheet", 0, "sheet index for .xlsx input")
	resolveCmd.Flags().StringP("format", "f", formatConsole, "output format: json, yaml or console")
	resolveCmd.Flags().Int("explain", 0, "show the top N scored recipients per label")
	rootCmd.AddCommand(resolveCmd)
}
