package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/gcbaptista/go-track-reconciler/config"
)

const version = "1.0.0"

type globalFlags struct {
	configPath string
	backend    string
	dataPath   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "reconciler",
		Short:        "Reconcile playlist and play history references against a music library",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "Storage backend (memory or sqlite), overrides the config file")
	root.PersistentFlags().StringVar(&flags.dataPath, "data", "", "Snapshot or database path, overrides the config file")

	root.AddCommand(
		newServeCommand(flags),
		newImportCommand(flags),
		newReindexCommand(flags),
		newMatchCommand(flags),
		newStatsCommand(flags),
		newSearchCommand(flags),
	)
	return root
}

// loadSettings reads the config file if one was given and applies the
// storage flag overrides.
func (f *globalFlags) loadSettings() (*config.Settings, error) {
	settings := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	if f.backend != "" {
		settings.Storage.Backend = f.backend
	}
	if f.dataPath != "" {
		settings.Storage.Path = f.dataPath
	}
	if conflicts := settings.Validate(); len(conflicts) > 0 {
		return nil, fmt.Errorf("invalid settings: %v", conflicts)
	}

	log.Printf("Info: Using %s storage at '%s'", settings.Storage.Backend, settings.Storage.Path)
	return settings, nil
}
