package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rushteam/tigerid/config"
	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/service"
)

func newModelsCmd(root *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered models and whether they are loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := printModels(cmd, a); err != nil {
				return err
			}
			if check {
				return checkCollaborators(cmd.Context(), cmd.OutOrStdout(), cfg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Also probe the detection and verifier endpoints")
	return cmd
}

// checkCollaborators 探测检测与几何校验服务；未配置的端点跳过
func checkCollaborators(ctx context.Context, w io.Writer, cfg *config.AppConfig) error {
	endpoints := []struct {
		typ service.ServiceType
		ep  config.EndpointConfig
	}{
		{service.ServiceTypeDetection, cfg.Detection},
		{service.ServiceTypeVerifier, cfg.Verifier},
	}
	unhealthy := 0
	for _, e := range endpoints {
		if e.ep.Endpoint == "" {
			fmt.Fprintf(w, "%s: not configured\n", e.typ)
			continue
		}
		hc, err := service.NewHealthChecker(&service.ServiceConfig{
			Type:     e.typ,
			Endpoint: e.ep.Endpoint,
			Timeout:  e.ep.Timeout,
			Auth:     e.ep.Auth,
		}, nil)
		if err == nil {
			err = service.TestConnection(ctx, hc)
			_ = hc.Close()
		}
		if err != nil {
			unhealthy++
			fmt.Fprintf(w, "%s: %s unhealthy: %v\n", e.typ, e.ep.Endpoint, err)
			continue
		}
		fmt.Fprintf(w, "%s: %s ok\n", e.typ, e.ep.Endpoint)
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d collaborator endpoint(s) unhealthy", unhealthy)
	}
	return nil
}

func printModels(cmd *cobra.Command, a *app) error {
	available := make(map[string]bool)
	for _, id := range a.loader.Available(cmd.Context()) {
		available[id] = true
	}
	failures := a.loader.Failures(cmd.Context())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tDIM\tTHRESHOLD\tTIMEOUT\tWEIGHT\tTEMP\tSTATUS")
	for _, id := range a.reg.ListModels(core.CategoryReID) {
		cfg, err := a.reg.Get(id)
		if err != nil {
			return err
		}
		status := "loaded"
		if !available[id] {
			status = "unavailable"
			if ferr, ok := failures[id]; ok {
				status = "unavailable: " + ferr.Error()
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\t%.2f\t%.2f\t%s\n",
			id, cfg.EmbeddingDim, cfg.SimilarityThreshold, cfg.Timeout,
			a.calibrator.Weight(id), a.calibrator.Temperature(id), status)
	}
	return w.Flush()
}
