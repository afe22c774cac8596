package app

import "github.com/thushan/oxide/internal/config"

// setConfig swaps the live configuration, used by the config-reload
// callback Load wires up in main.
func (a *Application) setConfig(cfg *config.Config) {
	a.configMu.Lock()
	defer a.configMu.Unlock()
	a.config = cfg
}

// getConfig returns the currently active configuration.
func (a *Application) getConfig() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}
