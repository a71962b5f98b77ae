package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rushteam/tigerid/core"
)

func newGalleryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Manage the reference gallery",
	}
	cmd.AddCommand(newGalleryAddCmd(root))
	return cmd
}

func newGalleryAddCmd(root *rootOptions) *cobra.Command {
	var (
		models   []string
		entityID string
		name     string
		noDetect bool
	)
	cmd := &cobra.Command{
		Use:   "add <image>...",
		Short: "Embed reference photos of one tiger and add them to the gallery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if cfg.Gallery.Backend == "memory" {
				a.logger.Warn("gallery backend is memory, references are not persisted", nil)
			}
			detector, err := a.detector(noDetect)
			if err != nil {
				return err
			}

			if len(models) == 0 {
				models = a.loader.Available(cmd.Context())
			}
			if len(models) == 0 {
				return fmt.Errorf("no model is available")
			}

			added := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				det, err := detector.Detect(cmd.Context(), raw)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				best, ok := det.Best()
				if !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: no tiger detected, skipped\n", filepath.Base(path))
					continue
				}
				crop := best.Crop
				if len(crop) == 0 {
					crop = raw
				}
				for _, modelID := range models {
					emb, err := a.provider.GenerateEmbedding(cmd.Context(), modelID, core.ImageFromBytes(crop))
					if err != nil {
						return fmt.Errorf("%s %s: %w", filepath.Base(path), modelID, err)
					}
					refID, err := a.searcher.AddReference(cmd.Context(), modelID, entityID, name, emb)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", modelID, refID, filepath.Base(path))
					added++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d references for %s\n", added, entityID)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "Models to embed with (default: all loaded)")
	cmd.Flags().StringVar(&entityID, "entity", "", "Tiger id")
	cmd.Flags().StringVar(&name, "name", "", "Tiger name")
	cmd.Flags().BoolVar(&noDetect, "no-detect", false, "Treat each whole image as the tiger crop")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}
