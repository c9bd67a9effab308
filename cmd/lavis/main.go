// Package main implements the lavis CLI: the entry point that wires every
// component into the desktop assistant's HTTP/WebSocket server, and a
// handful of maintenance subcommands for operating it without going through
// the HTTP surface.
//
// # File Index
//
// Entry Point & Global State:
//   - main.go       - rootCmd, global flags, Execute()
//
// Commands:
//   - cmd_serve.go     - serveCmd, runServe(), component wiring, Dispatcher adapter
//   - cmd_skills.go    - skillsCmd (list/reload), runSkillsList(), runSkillsReload()
//   - cmd_scheduler.go - schedulerCmd (list/history), runSchedulerList(), runSchedulerHistory()
//   - cmd_config.go    - configCmd (show/path), runConfigShow()
package main

import (
	"fmt"
	"os"

	"github.com/leochame/lavis/internal/config"
	"github.com/leochame/lavis/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool

	log *zap.Logger
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lavis",
	Short: "Lavis - a local desktop cognitive assistant",
	Long: `Lavis perceives the screen, reasons over a vision-language model, and
drives the mouse/keyboard/clipboard to complete goals on your behalf.

Run "lavis serve" to start the HTTP/WebSocket server the companion UI talks to.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			os.Setenv("LAVIS_DEBUG", "1")
		}
		log = logging.Init()

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
