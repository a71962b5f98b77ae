package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/rushteam/tigerid/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "tigerid",
		Short:        "Multi-model tiger re-identification",
		SilenceUsage: true,
		Long: `tigerid identifies individual tigers from stripe patterns by combining
several re-identification models (staggered, parallel voting or weighted fusion).`,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML); env TIGERID_* overrides")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newIdentifyCmd(opts),
		newBatchCmd(opts),
		newModelsCmd(opts),
		newCalibrationCmd(opts),
		newGalleryCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.AppConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
