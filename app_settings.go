package main

import (
	"log"

	"sentinel-viewer/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := config.SaveSettings(settings); err != nil {
		return err
	}

	a.settings = settings
	a.saver.SetDir(settings.DownloadPath)

	// Note: backend, map and cache settings require app restart to take effect
	log.Printf("Settings saved. Backend and map settings will apply on next restart.")

	return nil
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// ResetSettings restores and saves the default settings
func (a *App) ResetSettings() (*config.UserSettings, error) {
	defaults := config.DefaultSettings()
	if err := a.SaveSettings(defaults); err != nil {
		return nil, err
	}
	return a.GetSettings()
}
