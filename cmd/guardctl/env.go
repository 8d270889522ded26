package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tbourn/crm-guard/internal/app"
	"github.com/tbourn/crm-guard/internal/config"
	"github.com/tbourn/crm-guard/internal/sysutil"
)

// load reads the dotenv file (if any), the environment and the rules file.
func (cli *CLI) load() (config.Config, config.Rules, error) {
	var err error
	if cli.Env != "" {
		err = godotenv.Load(cli.Env)
	} else if err = godotenv.Load(); errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if err != nil {
		return config.Config{}, config.Rules{}, fmt.Errorf("load env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, config.Rules{}, err
	}
	rules, err := config.LoadRules(cfg.Guard.RulesFile)
	if err != nil {
		return config.Config{}, config.Rules{}, err
	}
	return cfg, rules, nil
}

// stack builds the guard the same way the server does.
func (cli *CLI) stack(ctx context.Context) (*app.Stack, error) {
	cfg, rules, err := cli.load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, rules, cli.logger())
}

func (cli *CLI) logger() zerolog.Logger {
	if !cli.Verbose {
		return zerolog.Nop()
	}
	return sysutil.NewLogger(sysutil.LogOptions{Out: os.Stderr, Pretty: true}).Level(zerolog.WarnLevel)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
