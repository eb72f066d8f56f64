// Package config loads environment-backed configuration structs.
//
// Each package in this module declares its own Config struct with `env` tags;
// this package provides the single loading mechanism on top of
// github.com/caarlos0/env and godotenv.
//
//	var cfg quarantine.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// A .env file in the working directory is loaded once, if present, before the
// first parse; real environment variables always win over .env values.
package config
