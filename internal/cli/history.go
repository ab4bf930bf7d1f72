package cli

import (
	"github.com/spf13/cobra"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
)

var historyLimit int

// HistoryEntry is the JSON form of one deployment log line.
type HistoryEntry struct {
	Ref       string `json:"ref"`
	Operator  string `json:"operator"`
	Timestamp string `json:"timestamp"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent deployments",
	Long:  `List the most recent entries of the deployment log, oldest first.`,
	Example: `  sitedeploy history
  sitedeploy history -n 50 --json`,
	Args: noPositionalArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of entries to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newContainer(cfg, logger, versionInfo.Version)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	log := c.Audit()
	entries, err := log.Last(historyLimit)
	if err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(historyOutput(entries))
	}

	if len(entries) == 0 {
		printSubtle("No deployments recorded in " + log.Path())
		return nil
	}
	printTitle("Recent deployments")
	for _, e := range entries {
		printSubtle("  " + e.Line())
	}
	return nil
}

func historyOutput(entries []deploy.AuditEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			Ref:       e.Ref,
			Operator:  e.Operator,
			Timestamp: e.Timestamp.UTC().Format(deploy.AuditTimeFormat),
		})
	}
	return out
}
