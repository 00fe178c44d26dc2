package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read by LoadDotEnv when IOTQUERY_ENV_FILE is unset.
const DefaultEnvFile = ".env"

// LoadDotEnv copies KEY=VALUE pairs from an env file into the process
// environment. Variables that are already set keep their value. A missing
// default file is not an error; a missing explicit file is.
func LoadDotEnv(lookup LookupFunc) (string, error) {
	path := DefaultEnvFile
	explicit := false
	if lookup != nil {
		if raw, ok := lookup("IOTQUERY_ENV_FILE"); ok && strings.TrimSpace(raw) != "" {
			path = strings.TrimSpace(raw)
			explicit = true
		}
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("load env file %q: %w", path, err)
	}
	return path, nil
}
