package main

import (
	"fmt"

	"go.uber.org/zap"

	chatsync "github.com/LegalDragon/pickleball-chat-go"
)

// newLogger builds a zap logger. Debug-level development output with
// --verbose, otherwise a quiet production logger writing to stderr.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// newAPIClient builds a REST client from the stored config.
func newAPIClient(cfg *Config) (*chatsync.Client, error) {
	if cfg.Default.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured; run: picklechat config set default.base_url <url>")
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("not signed in; run: picklechat init <token>")
	}
	log, err := newLogger()
	if err != nil {
		return nil, err
	}
	return chatsync.NewClient(cfg.Default.BaseURL, cfg.Auth.Token,
		chatsync.WithClientLogger(log)), nil
}

// newSession builds a full live session (REST + realtime channel) from the
// stored config.
func newSession(cfg *Config) (*chatsync.Session, *zap.Logger, error) {
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	self := chatsync.Identity{
		UserID:      cfg.Auth.UserID,
		DisplayName: cfg.Auth.DisplayName,
	}
	opts := []chatsync.SessionOption{chatsync.WithLogger(log)}
	if cfg.Default.ChannelURL != "" {
		opts = append(opts, chatsync.WithChannelURL(cfg.Default.ChannelURL))
	}
	sess := chatsync.NewSession(api, self, opts...)
	return sess, log, nil
}
