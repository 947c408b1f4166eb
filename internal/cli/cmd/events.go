package cmd

import (
	"strconv"

	"github.com/filipexyz/hookd/pkg/client"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event log",
	Long:  `List and retrieve accepted webhook events from the durable log.`,
}

var (
	eventsListSince  uint64
	eventsListLimit  int
	eventsListFilter string
)

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored events",
	Long: `List stored events from a sequence cursor.

Examples:
  hookctl events list
  hookctl events list --since 1200 --limit 50
  hookctl events list --filter '.amt > 100'`,
	Run: func(cmd *cobra.Command, args []string) {
		var jqCode *gojq.Code
		if eventsListFilter != "" {
			var err error
			jqCode, err = compileJqFilter(eventsListFilter)
			if err != nil {
				out.Error("Invalid jq filter: %v", err)
				return
			}
		}

		c := getClient()
		result, err := c.EventsList(client.EventsQueryOptions{
			Since: eventsListSince,
			Limit: eventsListLimit,
		})
		if err != nil {
			out.Error("Failed to list events: %v", err)
			return
		}

		matched := result.Events[:0:0]
		for _, e := range result.Events {
			if matchesJqFilter(jqCode, e.Event.RawPayload) {
				matched = append(matched, e)
			}
		}

		if jsonOutput {
			out.JSON(client.EventsListResponse{Events: matched, Count: len(matched)})
			return
		}

		if len(matched) == 0 {
			out.Info("No events found")
			return
		}

		out.Header("Events")
		out.KeyValue("Count", strconv.Itoa(len(matched)))
		out.Divider()

		for _, e := range matched {
			out.Event(e.Seq, e.Event.Source, e.Event.IdempotencyKey, "", e.Timestamp)
		}
	},
}

var eventsGetCmd = &cobra.Command{
	Use:   "get <seq>",
	Short: "Get a specific event by sequence position",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			out.Error("Invalid sequence number")
			return
		}

		c := getClient()
		event, err := c.EventsGet(seq)
		if err != nil {
			out.Error("Failed to get event: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(event)
			return
		}

		out.Header("Event")
		out.KeyValue("Seq", strconv.FormatUint(event.Seq, 10))
		out.KeyValue("Key", event.Event.IdempotencyKey)
		out.KeyValue("Source", event.Event.Source)
		out.KeyValue("Received", event.Event.ReceivedAt.Format("2006-01-02 15:04:05"))
		out.Divider()
		out.Info("Payload: %s", string(event.Event.RawPayload))
	},
}

var eventsStatusCmd = &cobra.Command{
	Use:   "status <idempotency-key>",
	Short: "Show the delivery record for an idempotency key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		rec, err := c.EventsGetRecord(args[0])
		if err != nil {
			out.Error("Failed to get delivery record: %v", err)
			return
		}

		if jsonOutput {
			out.JSON(rec)
			return
		}

		out.Header("Delivery record")
		out.KeyValue("Key", rec.Key)
		out.KeyValue("Seq", strconv.FormatUint(rec.Seq, 10))
		out.KeyValue("Source", rec.Source)
		out.KeyValue("State", rec.State)
		out.KeyValue("Attempts", strconv.Itoa(rec.AttemptCount))
		if rec.State == "pending" {
			out.KeyValue("Next attempt", rec.NextAttemptAt.Format("2006-01-02 15:04:05"))
		}
		if rec.LastError != "" {
			out.KeyValue("Last error", rec.LastError)
		}
	},
}

func init() {
	eventsListCmd.Flags().Uint64Var(&eventsListSince, "since", 0, "list events after this sequence")
	eventsListCmd.Flags().IntVar(&eventsListLimit, "limit", 100, "max events to return")
	eventsListCmd.Flags().StringVar(&eventsListFilter, "filter", "", "jq expression over the event payload")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsGetCmd)
	eventsCmd.AddCommand(eventsStatusCmd)
	rootCmd.AddCommand(eventsCmd)
}
