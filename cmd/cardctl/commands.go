package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/diff"
	"github.com/octobees/cardscan/api/internal/service"
	"github.com/octobees/cardscan/api/internal/table"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.service.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if snap.Len() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cards found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tPHONE NUMBERS\tEMAIL")
			for i, row := range snap.Rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", snap.IDs[i],
					codec.Stringify(row.Get(codec.FieldName)),
					codec.Stringify(row.Get(codec.FieldCompany)),
					codec.Stringify(row.Get(codec.FieldPhoneNumbers)),
					codec.Stringify(row.Get(codec.FieldEmail)))
			}
			return w.Flush()
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		output string
		noID   bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the grid as CSV",
		Long: `Writes every card as one CSV row. The _id column is kept unless --no-id is set;
apply needs it to address rows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if output == "" || output == "-" {
				return a.service.ExportCSV(cmd.Context(), cmd.OutOrStdout(), !noID)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer func() {
				if cerr := f.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("close %s: %w", output, cerr)
				}
			}()
			return a.service.ExportCSV(cmd.Context(), f, !noID)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&noID, "no-id", false, "omit the identifier column")
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var (
		originalPath string
		editedPath   string
		byID         bool
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Write the differences between two exported grids back to the backend",
		Long: `Compares an exported grid with its edited copy and sends one update per changed
row. Rows are paired by position unless --by-id is set, in which case the edited
file may be reordered or filtered but must keep its _id column.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := readGrid(originalPath)
			if err != nil {
				return err
			}
			edited, err := readGrid(editedPath)
			if err != nil {
				return err
			}
			if original.IDs == nil {
				return fmt.Errorf("%s has no %s column", originalPath, codec.FieldID)
			}

			mode := service.MatchPosition
			if byID {
				mode = service.MatchID
			}

			if dryRun {
				changes, err := previewChanges(original, edited, mode)
				if err != nil {
					return err
				}
				return printJSON(cmd, changes)
			}

			result, err := a.service.Save(cmd.Context(), original, edited, mode)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if result.Skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d row(s) skipped: blank values are not sent\n", result.Skipped)
			}
			if result.Failed > 0 {
				return fmt.Errorf("save completed with %d failures", result.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&originalPath, "original", "", "grid as exported before editing")
	cmd.Flags().StringVar(&editedPath, "edited", "", "edited copy of the grid")
	cmd.Flags().BoolVar(&byID, "by-id", false, "pair rows by _id instead of position")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the change sets without sending them")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("edited")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	values := make(map[string]*string, len(codec.EditableFields))
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card from flags",
		Long: `Creates a card. List fields (phone_numbers, social_links) take comma separated
values, for example --phone_numbers "98765 43210, 080 1234 5678".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			for _, field := range codec.EditableFields {
				if cmd.Flags().Changed(field) {
					fields[field] = *values[field]
				}
			}
			if len(fields) == 0 {
				return errors.New("at least one field flag is required")
			}
			card, warnings, err := a.service.CreateCard(cmd.Context(), fields)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"card": card, "warnings": warnings})
		},
	}
	for _, field := range codec.EditableFields {
		values[field] = cmd.Flags().String(field, "", strings.ReplaceAll(field, "_", " "))
	}
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a card image (jpg, jpeg, png) for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer f.Close()

			card, warnings, err := a.service.UploadCard(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			if card == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Backend returned success but no data payload.")
			}
			return printJSON(cmd, map[string]any{"card": card, "warnings": warnings})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.service.DeleteCard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent grid saves (requires DATABASE_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := a.service.RecentSaves(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func readGrid(path string) (table.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return table.Snapshot{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	snap, err := table.ReadCSV(f)
	if err != nil {
		return table.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return snap, nil
}

func previewChanges(original, edited table.Snapshot, mode service.MatchMode) ([]diff.RowChange, error) {
	if mode == service.MatchID {
		result, err := diff.DiffByID(original, edited)
		if err != nil {
			return nil, err
		}
		return result.Changes, nil
	}
	return diff.Diff(original, edited)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
