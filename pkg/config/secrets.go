package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// mergeSecrets overlays a secrets file onto v when one is found.
// Precedence: ENV > secrets file > config file > defaults
//
// Example:
//
//	config.yaml:
//	  connection:
//	    host: rabbit.internal
//
//	secrets.yaml:
//	  connection:
//	    password: s3cr3t
//
// The secrets file is optional and automatically discovered:
// - If configFile is "config.yaml", looks for "secrets.yaml" in same directory
// - Can be explicitly set via <ENV_PREFIX>_SECRETS_FILE (defaults to RABBITQUEUE_SECRETS_FILE)
func (l *ViperLoader) mergeSecrets(v *viper.Viper) error {
	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return err
	}
	if secretsFile == "" {
		return nil
	}
	secretsViper := viper.New()
	secretsViper.SetConfigFile(secretsFile)
	if err := secretsViper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
	}
	if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
		return fmt.Errorf("failed to merge secrets: %w", err)
	}
	return nil
}

// discoverSecretsFile finds the secrets file using these rules:
// 1. Check <ENV_PREFIX>_SECRETS_FILE
// 2. If configFile is set, look for secrets.{ext} in same directory
// An explicit env value pointing nowhere is an error.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if rawSecretsFile, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(rawSecretsFile)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, nil
	}

	if l.configFile != "" {
		dir := filepath.Dir(l.configFile)
		ext := filepath.Ext(l.configFile)
		secretsFile := filepath.Join(dir, "secrets"+ext)
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}

	return "", nil
}
