package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile personalizes commentary for one viewer.
type Profile struct {
	Name            string   `yaml:"name" json:"name"`
	FavoriteTeam    string   `yaml:"favorite_team,omitempty" json:"favorite_team,omitempty"`
	ExpertiseSlider int      `yaml:"expertise_slider" json:"expertise_slider"`
	HotTakeSlider   int      `yaml:"hot_take_slider" json:"hot_take_slider"`
	FavoritePlayers []string `yaml:"favorite_players,omitempty" json:"favorite_players"`
	VoiceKey        string   `yaml:"voice_key,omitempty" json:"voice_key,omitempty"`
}

// DefaultProfile matches the backend defaults for a viewer who skipped
// onboarding.
func DefaultProfile() Profile {
	return Profile{
		Name:            "Fan",
		ExpertiseSlider: 40,
		HotTakeSlider:   25,
		FavoritePlayers: []string{},
		VoiceKey:        "danny",
	}
}

// LoadProfile reads a profile file. A missing file yields ok=false and no
// error.
func LoadProfile(path string) (Profile, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("read profile: %w", err)
	}
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, false, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		return Profile{}, false, fmt.Errorf("parse profile %s: name is required", path)
	}
	return p, true, nil
}

// SaveProfile writes p to path, creating parent directories.
func SaveProfile(path string, p Profile) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
