package location

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ProviderConfig is the record handed to the device's background location
// service. Values are opaque tuning parameters for the device.
type ProviderConfig struct {
	DesiredAccuracy     int    `yaml:"desired_accuracy" json:"desiredAccuracy" validate:"oneof=0 10 100 1000"`
	StationaryRadius    int    `yaml:"stationary_radius" json:"stationaryRadius" validate:"gte=0"`
	DistanceFilter      int    `yaml:"distance_filter" json:"distanceFilter" validate:"gte=0"`
	LocationTimeout     int    `yaml:"location_timeout" json:"locationTimeout" validate:"gte=1"`
	NotificationTitle   string `yaml:"notification_title" json:"notificationTitle" validate:"required"`
	NotificationText    string `yaml:"notification_text" json:"notificationText"`
	Debug               bool   `yaml:"debug" json:"debug"`
	StartOnBoot         bool   `yaml:"start_on_boot" json:"startOnBoot"`
	StopOnTerminate     bool   `yaml:"stop_on_terminate" json:"stopOnTerminate"`
	Interval            int    `yaml:"interval" json:"interval" validate:"gte=0"`
	FastestInterval     int    `yaml:"fastest_interval" json:"fastestInterval" validate:"gte=0,ltefield=Interval"`
	ActivitiesInterval  int    `yaml:"activities_interval" json:"activitiesInterval" validate:"gte=0"`
	StopOnStillActivity bool   `yaml:"stop_on_still_activity" json:"stopOnStillActivity"`
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		DesiredAccuracy:     10,
		StationaryRadius:    50,
		DistanceFilter:      50,
		LocationTimeout:     30,
		NotificationTitle:   "Background tracking",
		NotificationText:    "enabled",
		Debug:               false,
		StartOnBoot:         false,
		StopOnTerminate:     true,
		Interval:            10000,
		FastestInterval:     5000,
		ActivitiesInterval:  10000,
		StopOnStillActivity: false,
	}
}

// LoadProviderConfig reads a YAML file over the defaults and validates the result.
// An empty path yields the defaults.
func LoadProviderConfig(path string) (ProviderConfig, error) {
	cfg := DefaultProviderConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("read provider config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ProviderConfig{}, fmt.Errorf("parse provider config: %w", err)
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return ProviderConfig{}, fmt.Errorf("invalid provider config: %w", err)
	}
	return cfg, nil
}
