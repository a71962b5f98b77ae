package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rushteam/tigerid/filter"
	"github.com/rushteam/tigerid/identify"
)

type identifyFlags struct {
	model     string
	ensemble  string
	threshold float64
	exclude   []string
	noDetect  bool
}

func (f *identifyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model for single-model identification (default from config)")
	cmd.Flags().StringVarP(&f.ensemble, "ensemble", "e", "", "Ensemble strategy: staggered, parallel or weighted")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 0, "Similarity threshold (0 uses the model or config default)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Entity ids to exclude from weighted refinement")
	cmd.Flags().BoolVar(&f.noDetect, "no-detect", false, "Treat the whole image as the tiger crop")
}

func (f *identifyFlags) request() identify.Request {
	req := identify.Request{
		Threshold: f.threshold,
		ModelID:   f.model,
		Ensemble:  f.ensemble,
	}
	if len(f.exclude) > 0 {
		req.Params = map[string]any{filter.ParamExcludeIDs: f.exclude}
	}
	return req
}

func newIdentifyCmd(root *rootOptions) *cobra.Command {
	flags := &identifyFlags{}
	cmd := &cobra.Command{
		Use:   "identify <image>",
		Short: "Identify the tiger in one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := buildService(cmd.Context(), root, flags.noDetect)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := svc.IdentifyFromImage(cmd.Context(), f, flags.request())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	return cmd
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	flags := &identifyFlags{}
	cmd := &cobra.Command{
		Use:   "batch <image>...",
		Short: "Identify tigers in several images; failures are reported per image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := buildService(cmd.Context(), root, flags.noDetect)
			if err != nil {
				return err
			}
			defer closeFn()

			inputs := make([]identify.BatchInput, 0, len(args))
			for _, path := range args {
				in := identify.BatchInput{Name: filepath.Base(path)}
				if data, err := os.ReadFile(path); err == nil {
					in = identify.BytesInput(in.Name, data)
				}
				inputs = append(inputs, in)
			}

			items := svc.IdentifyBatch(cmd.Context(), inputs, flags.request())
			failed := 0
			for _, it := range items {
				if it.Err != nil {
					failed++
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), items); err != nil {
				return err
			}
			if failed == len(items) {
				return fmt.Errorf("all %d images failed", failed)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func buildService(ctx context.Context, root *rootOptions, noDetect bool) (*identify.Service, func(), error) {
	cfg, err := root.load()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := a.identifyService(noDetect)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return svc, func() { _ = a.Close() }, nil
}
