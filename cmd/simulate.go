package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/irrigation-dashboard/internal/simulator"
	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/logger"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the backend simulator",
	Long: `Run an in-memory irrigation backend that:
- Serves the REST API the dashboard calls under /api
- Generates synthetic temperature, humidity and soil moisture readings
- Pushes readings to subscribed WebSocket clients on /ws
- Registers a demo account so the dashboard can log in right away`,
	PreRunE: bindFlags(simulateFlags),
	RunE:    runSimulate,
}

// simulateFlags maps viper keys to simulate flags.
var simulateFlags = map[string]string{
	"simulator.http.port":     "http-port",
	"simulator.interval":      "interval",
	"simulator.backfill":      "backfill",
	"simulator.demo.username": "demo-username",
	"simulator.demo.password": "demo-password",
	"simulator.demo.email":    "demo-email",
	"simulator.extra_crops":   "extra-crops",
	"simulator.metrics":       "metrics",
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Simulator-specific flags
	simulateCmd.Flags().Int("http-port", 8080, "HTTP server port")
	simulateCmd.Flags().Duration("interval", simulator.DefaultInterval, "Interval between generated readings")
	simulateCmd.Flags().Bool("backfill", true, "Seed a month of hourly history on start")
	simulateCmd.Flags().String("demo-username", "demo", "Demo account username (empty generates a random account)")
	simulateCmd.Flags().String("demo-password", "demo", "Demo account password")
	simulateCmd.Flags().String("demo-email", "demo@example.com", "Demo account email")
	simulateCmd.Flags().Int("extra-crops", 0, "Number of generated crops added after the built-in catalogue")
	simulateCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
}

func runSimulate(_ *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting simulator service")

	demo := generator.NewProfile()
	if username := viper.GetString("simulator.demo.username"); username != "" {
		demo = &generator.Profile{
			Name:     "Demo Farmer",
			Email:    viper.GetString("simulator.demo.email"),
			Username: username,
			Password: viper.GetString("simulator.demo.password"),
		}
	}

	var m *metrics.SimulatorMetrics
	if viper.GetBool("simulator.metrics") {
		m = metrics.NewSimulatorMetrics(metrics.Namespace)
	}

	config := &simulator.ServerConfig{
		Logger:     logger.Component(log, "simulator"),
		HTTPPort:   viper.GetInt("simulator.http.port"),
		Interval:   viper.GetDuration("simulator.interval"),
		Backfill:   viper.GetBool("simulator.backfill"),
		ExtraCrops: viper.GetInt("simulator.extra_crops"),
		DemoUser:   demo,
		Metrics:    m,
	}

	// Create and run server
	server, err := simulator.NewServer(config)
	if err != nil {
		log.Error("failed to create simulator", "error", err)
		return err
	}

	log.Info("simulator configuration",
		"http_port", config.HTTPPort,
		"interval", config.Interval,
		"backfill", config.Backfill,
		"demo_username", demo.Username,
		"demo_password", demo.Password,
	)

	if err := server.Run(context.Background()); err != nil {
		log.Error("simulator error", "error", err)
		return err
	}

	log.Info("simulator stopped")
	return nil
}
