package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/grantdesk/grantdesk"
	"github.com/joho/godotenv"
)

// Environment variables that override values from the config file.
const (
	EnvListen      = "GRANTDESK_LISTEN"
	EnvTokenSecret = "GRANTDESK_TOKEN_SECRET"
	EnvLogProvider = "GRANTDESK_LOG_PROVIDER"
)

// secretKey is the key of the token secret in the API sections that sign
// tokens.
const secretKey = "secret"

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables that are already set are not changed, and files that
// do not exist are skipped. With no files, ".env" in the working directory is
// loaded.
func LoadDotEnv(files ...string) error {
	if len(files) < 1 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides values in cfg with the ones set in the process
// environment.
func ApplyEnv(cfg *grantdesk.Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *grantdesk.Config, lookup func(string) (string, bool)) error {
	if listen, ok := lookup(EnvListen); ok && listen != "" {
		addr, port, err := parseListen(listen)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvListen, err)
		}
		cfg.Globals.Address = addr
		cfg.Globals.Port = port
	}

	if prov, ok := lookup(EnvLogProvider); ok && prov != "" {
		p, err := grantdesk.ParseLogProvider(prov)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogProvider, err)
		}
		cfg.Log.Provider = p
		cfg.Log.Enabled = p != grantdesk.NoLog
	}

	if secret, ok := lookup(EnvTokenSecret); ok && secret != "" {
		for name, api := range cfg.APIs {
			if !hasKey(api, secretKey) {
				continue
			}
			if err := api.Set(secretKey, []byte(secret)); err != nil {
				return fmt.Errorf("%s: %s: %w", EnvTokenSecret, name, err)
			}
		}
	}

	return nil
}

func hasKey(api grantdesk.APIConfig, key string) bool {
	for _, k := range api.Keys() {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// parseListen splits an "ADDRESS:PORT" or ":PORT" string.
func parseListen(listen string) (string, int, error) {
	bindParts := strings.SplitN(listen, ":", 2)
	if len(bindParts) != 2 {
		return "", 0, fmt.Errorf("not in \"ADDRESS:PORT\" or \":PORT\" format")
	}
	port, err := strconv.Atoi(bindParts[1])
	if err != nil {
		return "", 0, fmt.Errorf("%q is not a valid port number", bindParts[1])
	}
	return bindParts[0], port, nil
}
