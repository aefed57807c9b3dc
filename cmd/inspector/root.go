package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "inspector",
	Short: "Autonomous indoor inspection flights with photo documentation",
	Long: "Inspector flies a quadcopter along a configured waypoint route,\n" +
		"identifies the structure at each stop by its QR tag and documents it\n" +
		"with photos from several headings. A safety monitor watches the camera\n" +
		"the whole flight and can force an immediate landing.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the inspector version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.AddCommand(flyCmd)
	rootCmd.AddCommand(preflightCmd)
	rootCmd.AddCommand(missionsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

// loadMissionConfig resolves the effective configuration: defaults, then
// the config file, then a standalone flight plan replacing the mission
// section.
func loadMissionConfig(missionPath, waypointsPath string) (config.Config, error) {
	cfg := config.Default()
	if missionPath != "" {
		var err error
		cfg, err = config.Load(missionPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if waypointsPath != "" {
		m, err := config.LoadWaypoints(waypointsPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Mission = m
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
