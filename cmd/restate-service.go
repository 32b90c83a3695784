package cmd

import (
	"context"
	"log"

	restate "github.com/restatedev/sdk-go"
	"github.com/restatedev/sdk-go/server"
	"github.com/spf13/cobra"

	"github.com/runloom/runloom/internal/api"
	"github.com/runloom/runloom/internal/config"
	"github.com/runloom/runloom/internal/db"
	"github.com/runloom/runloom/internal/telemetry"
	"github.com/runloom/runloom/pkg/agentrun/restatebinding"
)

var restateWorkerCmd = &cobra.Command{
	Use:   "restate-worker",
	Short: "Start Restate Worker",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.ReadConfig()

		shutdownTelemetry := telemetry.NewProvider(conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		conn := db.NewConn(conf)
		s := api.New(conf, conn)
		workflow := restatebinding.NewRunWorkflow(s.Deps())

		if err := server.NewRestate().
			Bind(restate.Reflect(workflow)).
			Start(context.Background(), "0.0.0.0:9080"); err != nil {
			log.Fatal(err)
		}
	},
}

// Register the "restate-worker" command
func init() {
	rootCmd.AddCommand(restateWorkerCmd)
}
