package netmangle

import (
	"encoding/json"
	"os"
)

// InitialLinkConfig is the JSON shape of the startup configuration
// file: link parameters applied to both directions before traffic
// starts flowing.
type InitialLinkConfig struct {
	BandwidthBits int64 `json:"bandwidth_bps"`
	DelayMillis   int64 `json:"delay_ms"`
	LossPer10000  int64 `json:"loss_per_10000"`
}

// PopulateConfig loads the startup configuration and applies it. A
// missing or malformed file is logged and skipped so the emulator still
// comes up with defaults.
func (em *Emulator) PopulateConfig(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		em.Logger.Err(err).Str("config", path).Msg("error reading config file")
		return
	}

	var cfg InitialLinkConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		em.Logger.Err(err).Str("config", path).Msg("failed to parse config file")
		return
	}

	em.SetBandwidthBoth(cfg.BandwidthBits)
	em.SetDelayMillisBoth(cfg.DelayMillis)
	em.SetLossBoth(cfg.LossPer10000)
	em.Logger.Info().Str("config", path).Msg("initial link configuration applied")
}
