package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead letter queue",
	Long:  `List, replay and delete events that exhausted their delivery attempts.`,
}

var (
	dlqListSource string
	dlqListLimit  int
)

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		result, err := c.DLQList(dlqListSource, dlqListLimit)
		if err != nil {
			out.Error("Failed to list DLQ: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(result)
			return
		}

		if result.Count == 0 {
			out.Info("Dead letter queue is empty")
			return
		}

		out.Header("Dead letter queue")
		out.KeyValue("Count", strconv.Itoa(result.Count))
		out.Divider()

		for _, e := range result.Entries {
			out.Event(e.Seq, e.Message.Source, e.Message.IdempotencyKey,
				"attempts="+strconv.Itoa(e.Message.Attempts), e.Message.FailedAt)
		}
	},
}

var dlqGetCmd = &cobra.Command{
	Use:   "get <seq>",
	Short: "Get a DLQ entry by its DLQ sequence",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			out.Error("Invalid sequence number")
			return
		}

		c := getClient()
		entry, err := c.DLQGet(seq)
		if err != nil {
			out.Error("Failed to get DLQ entry: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(entry)
			return
		}

		out.Header("DLQ entry")
		out.KeyValue("DLQ seq", strconv.FormatUint(entry.Seq, 10))
		out.KeyValue("Key", entry.Message.IdempotencyKey)
		out.KeyValue("Event seq", strconv.FormatUint(entry.Message.Seq, 10))
		out.KeyValue("Source", entry.Message.Source)
		out.KeyValue("Attempts", strconv.Itoa(entry.Message.Attempts))
		out.KeyValue("Failed at", entry.Message.FailedAt.Format("2006-01-02 15:04:05"))
		if entry.Message.LastError != "" {
			out.KeyValue("Last error", entry.Message.LastError)
		}
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <seq>",
	Short: "Reset a dead-lettered event to pending delivery",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			out.Error("Invalid sequence number")
			return
		}

		c := getClient()
		rec, err := c.DLQReplay(seq)
		if err != nil {
			out.Error("Failed to replay: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(rec)
			return
		}

		out.Success("Replay scheduled")
		out.KeyValue("Key", rec.Key)
		out.KeyValue("State", rec.State)
	},
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete <seq>",
	Short: "Drop a DLQ entry without replaying it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			out.Error("Invalid sequence number")
			return
		}

		c := getClient()
		if err := c.DLQDelete(seq); err != nil {
			out.Error("Failed to delete: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(map[string]any{"deleted": seq})
			return
		}
		out.Success("Deleted DLQ entry %d", seq)
	},
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqListSource, "source", "", "filter by source")
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 100, "max entries to return")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqGetCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	dlqCmd.AddCommand(dlqDeleteCmd)
	rootCmd.AddCommand(dlqCmd)
}
