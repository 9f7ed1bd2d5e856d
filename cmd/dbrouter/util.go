package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ice-blockchain/go-dbrouter"
)

const (
	defaultTimeout = 30 * time.Second
	// wrap is the number of characters to wrap the help text at
	wrap = 50
)

// wrapString wraps a string at wrap characters.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// initConfig loads env files and makes DBROUTER_* variables override flags
// and the configuration file.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dbrouter")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// bindCommandFlags binds the flags of a command and of its parents to viper.
func bindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// loadConfig reads and validates the configuration file.
func loadConfig(v *viper.Viper, path string) (dbrouter.Config, error) {
	var cfg dbrouter.Config

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// setup binds the flags and returns the configuration, a logger and the
// command context.
func setup(cmd *cobra.Command) (dbrouter.Config, dbrouter.Logger, context.Context, context.CancelFunc, error) {
	if err := bindCommandFlags(cmd); err != nil {
		return dbrouter.Config{}, nil, nil, nil, err
	}

	cfg, err := loadConfig(viper.GetViper(), viper.GetString("config"))
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	logger, err := newLogger(os.Stderr, viper.GetString("log-level"))
	if err != nil {
		return cfg, nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
	return cfg, logger, ctx, cancel, nil
}

func newLogger(w io.Writer, level string) (dbrouter.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return dbrouter.NewSlogLogger(slog.New(handler)), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseJSONObject decodes a JSON object flag; an empty string is an empty
// object.
func parseJSONObject(s string) (map[string]interface{}, error) {
	obj := map[string]interface{}{}
	if strings.TrimSpace(s) == "" {
		return obj, nil
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("invalid JSON object %q: %w", s, err)
	}
	return obj, nil
}
