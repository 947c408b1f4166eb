package cmd

import (
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Long:  `Check the health and readiness of the hookd server.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()

		health, err := c.Health()
		if err != nil && health == nil {
			if jsonOutput {
				out.JSON(map[string]any{
					"status": "error",
					"error":  err.Error(),
				})
			} else {
				out.Error("Server unreachable: %v", err)
			}
			return
		}

		if jsonOutput {
			out.JSON(health)
			return
		}

		if err != nil {
			out.Warn("Server degraded")
		} else {
			out.Success("Server is healthy")
		}
		out.KeyValue("Status", health.Status)

		if readyErr := c.Ready(); readyErr != nil {
			out.Warn("Not ready for intake: %v", readyErr)
		} else {
			out.KeyValue("Intake", "ready")
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
