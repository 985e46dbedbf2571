package main

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"eqms/internal/capa"
)

// Config is the optional eqms.yaml configuration file. Everything has a
// sensible default, so the file may be absent.
type Config struct {
	Company struct {
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"company"`

	// CAPA carries the phase transition policy. Whether phases may be
	// skipped or reworked is a deployment decision, not a code change.
	CAPA capa.TransitionPolicy `yaml:"capa"`

	// ApprovalMatrix seeds the approval matrix on first boot.
	ApprovalMatrix []matrixSeedRule `yaml:"approval_matrix"`
}

func loadConfig(path string) Config {
	var cfg Config
	cfg.Company.Name = "Your Company"
	cfg.Company.Email = "quality@example.com"

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Config read failed (%s), using defaults: %v", path, err)
		}
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("Config parse failed (%s), using defaults: %v", path, err)
		return Config{}
	}

	if cfg.Company.Name == "" {
		cfg.Company.Name = "Your Company"
	}
	if cfg.Company.Email == "" {
		cfg.Company.Email = "quality@example.com"
	}
	return cfg
}
