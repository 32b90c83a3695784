package cmd

import (
	"github.com/spf13/cobra"

	"github.com/runloom/runloom/internal/api"
	"github.com/runloom/runloom/internal/config"
	"github.com/runloom/runloom/internal/db"
	"github.com/runloom/runloom/internal/telemetry"
)

var agentServerCmd = &cobra.Command{
	Use:   "agent-server",
	Short: "Start Agent Server",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.ReadConfig()

		shutdownTelemetry := telemetry.NewProvider(conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		conn := db.NewConn(conf)
		s := api.New(conf, conn)
		s.Start()
	},
}

// Register the "agent-server" command
func init() {
	rootCmd.AddCommand(agentServerCmd)
}
