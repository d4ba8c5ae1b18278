package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adbfs-fuse/adbfs-go/internal/config"
	"github.com/adbfs-fuse/adbfs-go/internal/journal"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect write-backs that could not be pushed to the device",
	Long: `When a flush cannot push a staged file back to the device, its content is
recorded in the configured journal backend. These commands read it back.`,
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded write-back failures",
	Args:  cobra.NoArgs,
	RunE:  runJournalList,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the content of a recorded write-back",
	Long: `Prints the staged content of a failed write-back to stdout, or to the file
given with -o, so it can be pushed again by hand.`,
	Args: cobra.ExactArgs(1),
	RunE: runJournalShow,
}

var journalShowOutput string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalShowCmd)
	journalShowCmd.Flags().StringVarP(&journalShowOutput, "output", "o", "", "Write the content to this file")
}

// openJournal loads the config and opens its journal backend.
func openJournal(cmd *cobra.Command) (types.Journal, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal.Backend = journalKind
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	return journal.New(cmd.Context(), cfg.Journal)
}

func runJournalList(cmd *cobra.Command, args []string) error {
	j, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()
	return listRecords(cmd.Context(), j, cmd.OutOrStdout())
}

func listRecords(ctx context.Context, j types.Journal, out io.Writer) error {
	records, err := j.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list journal: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No failed write-backs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFAILED AT\tSIZE\tPATH\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.FailedAt.Local().Format(time.DateTime), rec.Size, rec.RemotePath, rec.Error)
	}
	return w.Flush()
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	j, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	out := cmd.OutOrStdout()
	if journalShowOutput != "" {
		f, err := os.Create(journalShowOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return showRecord(cmd.Context(), j, args[0], out)
}

func showRecord(ctx context.Context, j types.Journal, id string, out io.Writer) error {
	rec, err := j.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read journal record %s: %w", id, err)
	}
	_, err = out.Write(rec.Content)
	return err
}
