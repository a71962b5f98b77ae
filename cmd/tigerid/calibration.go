package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rushteam/tigerid/calibration"
)

func newCalibrationCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibration",
		Short: "Inspect or edit the calibration profile (temperatures and ensemble weights)",
	}
	cmd.AddCommand(newCalibrationShowCmd(root), newCalibrationSetCmd(root))
	return cmd
}

// loadCalibrator 读取 path 对应的校准文件；path 为空时用配置中的文件，文件不存在时返回默认值
func loadCalibrator(root *rootOptions, path string) (*calibration.Calibrator, string, error) {
	if path == "" {
		cfg, err := root.load()
		if err != nil {
			return nil, "", err
		}
		path = cfg.Calibration.Profile
	}
	c := calibration.New()
	if path == "" {
		return c, "", nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, path, nil
	}
	p, err := calibration.LoadProfile(path)
	if err != nil {
		return nil, "", err
	}
	if err := c.Apply(p); err != nil {
		return nil, "", err
	}
	return c, path, nil
}

func newCalibrationShowCmd(root *rootOptions) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective calibration profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := loadCalibrator(root, profile)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), c.Profile())
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Calibration profile file (default from config)")
	return cmd
}

func newCalibrationSetCmd(root *rootOptions) *cobra.Command {
	var (
		profile     string
		modelID     string
		temperature float64
		weight      float64
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a model's temperature and/or weight and save the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, path, err := loadCalibrator(root, profile)
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no profile file: pass --profile or set calibration.profile")
			}
			tSet, wSet := cmd.Flags().Changed("temperature"), cmd.Flags().Changed("weight")
			if !tSet && !wSet {
				return fmt.Errorf("nothing to set: pass --temperature and/or --weight")
			}
			if tSet {
				if err := c.SetTemperature(modelID, temperature); err != nil {
					return err
				}
			}
			if wSet {
				if err := c.SetWeight(modelID, weight); err != nil {
					return err
				}
			}
			if err := calibration.SaveProfile(path, c.Profile()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %s temperature=%.2f weight=%.2f\n",
				path, modelID, c.Temperature(modelID), c.Weight(modelID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Calibration profile file (default from config)")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Temperature in [0.1, 5.0]")
	cmd.Flags().Float64Var(&weight, "weight", 0, "Ensemble weight (>= 0)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
