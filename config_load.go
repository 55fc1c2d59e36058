package authcore

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// LoadConfig reads a YAML config file and applies environment
// overrides. A .env file in the working directory is loaded first when
// present, so local development does not need exported variables. Path
// may be empty, in which case only the environment is read over the
// built-in defaults.
func LoadConfig(path string) (Config, error) {
	// Missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := baseConfig()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
