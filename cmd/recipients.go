package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/labelmatch/internal/recipient"
)

var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Inspect the recipient database",
}

var recipientsValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check that a recipient database loads",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := recipientsPath(args)
		records, err := recipient.Load(path)
		if err != nil {
			return err
		}

		problems := validateRecords(records)
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p)
		}
		fmt.Fprintf(os.Stdout, "%s: %d recipients, %d warnings\n", path, len(records), len(problems))
		return nil
	},
}

var recipientsListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List recipients",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := recipient.Load(recipientsPath(args))
		if err != nil {
			return eris.Wrap(err, "recipients list")
		}
		formatRecipients(os.Stdout, records)
		return nil
	},
}

func recipientsPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Recipients.Path
}

// validateRecords reports records that load but cannot match well: a blank
// name can never score, a duplicate ID makes results ambiguous.
func validateRecords(records []recipient.Record) []string {
	var problems []string
	seen := make(map[string]int, len(records))
	for i, r := range records {
		if r.RecipientID == "" {
			problems = append(problems, fmt.Sprintf("record %d: empty recipient_id", i))
		} else if j, dup := seen[r.RecipientID]; dup {
			problems = append(problems, fmt.Sprintf("record %d: recipient_id %q duplicates record %d", i, r.RecipientID, j))
		} else {
			seen[r.RecipientID] = i
		}
		if strings.TrimSpace(r.FirstName+r.LastName) == "" {
			problems = append(problems, fmt.Sprintf("record %d: no first or last name", i))
		}
		if strings.TrimSpace(r.Address) == "" {
			problems = append(problems, fmt.Sprintf("record %d: empty address", i))
		}
	}
	return problems
}

func formatRecipients(out io.Writer, records []recipient.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPREFERRED\tADDRESS")
	_, _ = fmt.Fprintln(w, "--\t----\t---------\t-------")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RecipientID, r.FullName(), r.PreferredFullName, r.Address)
	}
	_ = w.Flush()
}

func init() {
	recipientsCmd.AddCommand(recipientsValidateCmd)
	recipientsCmd.AddCommand(recipientsListCmd)
	rootCmd.AddCommand(recipientsCmd)
}
