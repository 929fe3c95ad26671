// Package config loads the YAML run configuration and the process runtime
// settings taken from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skyward/internal/bsky"
	"skyward/internal/model"
)

const (
	DefaultDelaySeconds    = 2.5
	DefaultPageSize        = 50
	DefaultStorageDir      = "state"
	DefaultLockStaleAfter  = 6 * time.Hour
	BackendJSON            = "json"
	BackendSQLite          = "sqlite"
	defaultSQLiteFileName  = "skyward.db"
	maxNewFollowersPerPage = 100
)

// Config is the YAML document describing every operator account.
type Config struct {
	Accounts []AccountConfig `yaml:"accounts"`
	Storage  StorageConfig   `yaml:"storage,omitempty"`
	// StorageDir is the older spelling of storage.directory.
	StorageDir                string    `yaml:"storage_dir,omitempty"`
	DefaultFollowDelaySeconds *float64  `yaml:"default_follow_delay_seconds,omitempty"`
	DefaultLikeDelaySeconds   *float64  `yaml:"default_like_delay_seconds,omitempty"`
	API                       APIConfig `yaml:"api,omitempty"`
}

type AccountConfig struct {
	Handle         string `yaml:"handle"`
	AppPassword    string `yaml:"app_password,omitempty"`
	AppPasswordEnv string `yaml:"app_password_env,omitempty"`
	Service        string `yaml:"service,omitempty"`
	Proxy          string `yaml:"proxy,omitempty"`
	// DelaySeconds applies to follows and likes unless overridden.
	DelaySeconds         *float64       `yaml:"delay_seconds,omitempty"`
	FollowDelaySeconds   *float64       `yaml:"follow_delay_seconds,omitempty"`
	LikeDelaySeconds     *float64       `yaml:"like_delay_seconds,omitempty"`
	DMDelaySeconds       *float64       `yaml:"dm_delay_seconds,omitempty"`
	NewFollowersPageSize *int           `yaml:"new_followers_page_size,omitempty"`
	QuietHours           []int          `yaml:"quiet_hours,omitempty"`
	FollowTargets        []TargetConfig `yaml:"follow_targets"`
	DM                   DMConfig       `yaml:"dm,omitempty"`
}

type TargetConfig struct {
	Handle         string `yaml:"handle"`
	FollowLimit    *int   `yaml:"follow_limit,omitempty"`
	LikeLatestPost *bool  `yaml:"like_latest_post,omitempty"`
	LikeLimit      *int   `yaml:"like_limit,omitempty"`
}

type DMConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Message       string  `yaml:"message,omitempty"`
	LimitPerRun   *int    `yaml:"limit_per_run,omitempty"`
	CooldownHours float64 `yaml:"cooldown_hours,omitempty"`
}

type StorageConfig struct {
	Directory      string         `yaml:"directory,omitempty"`
	Backend        string         `yaml:"backend,omitempty"`
	SQLitePath     string         `yaml:"sqlite_path,omitempty"`
	LockStaleAfter *time.Duration `yaml:"lock_stale_after,omitempty"`
}

// APIConfig overrides the default error classification. A list that is
// present replaces the default list entirely.
type APIConfig struct {
	RetryableStatuses     []int    `yaml:"retryable_statuses,omitempty"`
	RetryableErrors       []string `yaml:"retryable_errors,omitempty"`
	FatalStatuses         []int    `yaml:"fatal_statuses,omitempty"`
	FatalErrors           []string `yaml:"fatal_errors,omitempty"`
	CandidateStatuses     []int    `yaml:"candidate_statuses,omitempty"`
	CandidateErrors       []string `yaml:"candidate_errors,omitempty"`
	DMUnavailableStatuses []int    `yaml:"dm_unavailable_statuses,omitempty"`
	DMUnavailableErrors   []string `yaml:"dm_unavailable_errors,omitempty"`
}

// Classifier merges the overrides onto bsky.DefaultClassifier.
func (a APIConfig) Classifier() bsky.Classifier {
	c := bsky.DefaultClassifier()
	if a.RetryableStatuses != nil {
		c.RetryableStatuses = a.RetryableStatuses
	}
	if a.RetryableErrors != nil {
		c.RetryableNames = a.RetryableErrors
	}
	if a.FatalStatuses != nil {
		c.FatalStatuses = a.FatalStatuses
	}
	if a.FatalErrors != nil {
		c.FatalNames = a.FatalErrors
	}
	if a.CandidateStatuses != nil {
		c.CandidateStatuses = a.CandidateStatuses
	}
	if a.CandidateErrors != nil {
		c.CandidateNames = a.CandidateErrors
	}
	if a.DMUnavailableStatuses != nil {
		c.DMUnavailableStatuses = a.DMUnavailableStatuses
	}
	if a.DMUnavailableErrors != nil {
		c.DMUnavailableNames = a.DMUnavailableErrors
	}
	return c
}

func ptr[T any](v T) *T { return &v }

// Default returns an example configuration with one account.
func Default() Config {
	return Config{
		Accounts: []AccountConfig{{
			Handle:         "you.bsky.social",
			AppPasswordEnv: "BSKY_APP_PASSWORD",
			Service:        bsky.DefaultService,
			QuietHours:     []int{0, 1, 2, 3, 4, 5},
			FollowTargets: []TargetConfig{{
				Handle:         "bsky.app",
				FollowLimit:    ptr(25),
				LikeLatestPost: ptr(true),
				LikeLimit:      ptr(10),
			}},
			DM: DMConfig{
				Enabled:       false,
				Message:       "Hi {displayName}, thanks for following!",
				LimitPerRun:   ptr(10),
				CooldownHours: 0,
			},
		}},
		Storage: StorageConfig{
			Directory: DefaultStorageDir,
			Backend:   BackendJSON,
		},
		DefaultFollowDelaySeconds: ptr(DefaultDelaySeconds),
		DefaultLikeDelaySeconds:   ptr(DefaultDelaySeconds),
	}
}

// ResolveEnv fills in app passwords from the environment where requested.
func (c *Config) ResolveEnv() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.AppPassword == "" && a.AppPasswordEnv != "" {
			a.AppPassword = os.Getenv(a.AppPasswordEnv)
		}
	}
}

// Load reads, resolves and validates the YAML config at path. Any problem,
// including an unreadable file, is reported as *Error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg.ResolveEnv()
	if err := cfg.Validate(); err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	return &cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Directory is the storage directory, honoring the legacy key.
func (c *Config) Directory() string {
	switch {
	case c.Storage.Directory != "":
		return c.Storage.Directory
	case c.StorageDir != "":
		return c.StorageDir
	}
	return DefaultStorageDir
}

func (c *Config) Backend() string {
	if c.Storage.Backend == "" {
		return BackendJSON
	}
	return strings.ToLower(c.Storage.Backend)
}

func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Directory(), defaultSQLiteFileName)
}

// LockStaleAfter is the age after which a leftover lock file is broken.
// Zero disables breaking.
func (c *Config) LockStaleAfter() time.Duration {
	if c.Storage.LockStaleAfter == nil {
		return DefaultLockStaleAfter
	}
	return *c.Storage.LockStaleAfter
}

// Resolve turns the validated document into run-ready accounts, in
// declaration order.
func (c *Config) Resolve() []model.Account {
	out := make([]model.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		acct := model.Account{
			Handle:               a.Handle,
			AppPassword:          a.AppPassword,
			Service:              a.Service,
			Proxy:                a.Proxy,
			FollowDelay:          seconds(first(a.FollowDelaySeconds, a.DelaySeconds, c.DefaultFollowDelaySeconds), DefaultDelaySeconds),
			LikeDelay:            seconds(first(a.LikeDelaySeconds, a.DelaySeconds, c.DefaultLikeDelaySeconds), DefaultDelaySeconds),
			DMDelay:              seconds(a.DMDelaySeconds, 0),
			NewFollowersPageSize: intOr(a.NewFollowersPageSize, DefaultPageSize),
			QuietHours:           append([]int(nil), a.QuietHours...),
			DM: model.DMSpec{
				Enabled:       a.DM.Enabled,
				Message:       a.DM.Message,
				LimitPerRun:   intOr(a.DM.LimitPerRun, model.NoLimit),
				CooldownHours: a.DM.CooldownHours,
			},
		}
		if acct.Service == "" {
			acct.Service = bsky.DefaultService
		}
		for _, t := range a.FollowTargets {
			like := true
			if t.LikeLatestPost != nil {
				like = *t.LikeLatestPost
			}
			acct.Targets = append(acct.Targets, model.FollowTarget{
				Handle:         strings.TrimPrefix(strings.TrimSpace(t.Handle), "@"),
				FollowLimit:    intOr(t.FollowLimit, model.NoLimit),
				LikeLatestPost: like,
				LikeLimit:      intOr(t.LikeLimit, model.NoLimit),
			})
		}
		out = append(out, acct)
	}
	return out
}

func first(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func seconds(v *float64, def float64) time.Duration {
	s := def
	if v != nil {
		s = *v
	}
	return time.Duration(s * float64(time.Second))
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
