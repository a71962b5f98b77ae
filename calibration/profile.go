package calibration

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile 是离线优化产出的校准配置，启动时加载。
//
//	temperatures:
//	  wildlife_tools: 0.95
//	weights:
//	  wildlife_tools: 0.45
//	rank1_accuracy: 0.912
type Profile struct {
	Temperatures  map[string]float64 `yaml:"temperatures" json:"temperatures"`
	Weights       map[string]float64 `yaml:"weights" json:"weights"`
	Rank1Accuracy float64            `yaml:"rank1_accuracy,omitempty" json:"rank1_accuracy,omitempty"`
}

// LoadProfile 从 YAML 文件加载校准配置。
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &p, nil
}

// SaveProfile 写出校准配置。
func SaveProfile(path string, p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Profile 返回当前温度与权重的快照
func (c *Calibrator) Profile() *Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Profile{
		Temperatures: copyMap(c.temperatures),
		Weights:      copyMap(c.weights),
	}
}

// Apply 通过 setter 应用配置，每一项都会被校验。
// 非法项被跳过并汇总返回，合法项照常生效。
func (c *Calibrator) Apply(p *Profile) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, id := range sortedKeys(p.Temperatures) {
		if err := c.SetTemperature(id, p.Temperatures[id]); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range sortedKeys(p.Weights) {
		if err := c.SetWeight(id, p.Weights[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
