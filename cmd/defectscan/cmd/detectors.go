package cmd

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/defectscan/internal/config"
	"github.com/MeKo-Tech/defectscan/internal/detector"
)

// loadDetector builds one detector. Tests swap it for an in-memory model.
var loadDetector detector.LoaderFunc = detector.Load

// buildRegistry loads the configured models. When only is non-empty just
// that version is loaded and becomes the default.
func buildRegistry(cfg *config.Config, only string) (*detector.Registry, error) {
	mcs, err := cfg.ToModelConfigs()
	if err != nil {
		return nil, err
	}

	def := cfg.Detection.DefaultVersion
	if only != "" {
		var picked []detector.ModelConfig
		for _, mc := range mcs {
			if strings.EqualFold(mc.Version, only) {
				picked = append(picked, mc)
			}
		}
		if len(picked) == 0 {
			return nil, fmt.Errorf("unknown model version %q", only)
		}
		mcs, def = picked, picked[0].Version
	}

	return detector.LoadRegistry(mcs, def, loadDetector)
}
