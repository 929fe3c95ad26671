package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"skyward/internal/util"
)

// Error reports every problem found in a configuration. No account runs
// when one is returned.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := strings.ReplaceAll(e.Err.Error(), "\n", "; ")
	if e.Path == "" {
		return "invalid configuration: " + msg
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validate checks the whole document and collects every problem.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Accounts) == 0 {
		add("no accounts configured")
	}
	nonNeg := func(where, key string, v *float64) {
		if v != nil && *v < 0 {
			add("%s: %s must be >= 0", where, key)
		}
	}
	nonNeg("config", "default_follow_delay_seconds", c.DefaultFollowDelaySeconds)
	nonNeg("config", "default_like_delay_seconds", c.DefaultLikeDelaySeconds)

	seen := make(map[string]bool)
	files := make(map[string]int)
	for i, a := range c.Accounts {
		where := fmt.Sprintf("accounts[%d]", i)
		handle := strings.TrimSpace(a.Handle)
		if handle == "" {
			add("%s: handle is required", where)
		} else {
			where = fmt.Sprintf("accounts[%d] (%s)", i, handle)
			key := strings.ToLower(handle)
			file := strings.ToLower(util.SafeFileName(handle))
			if seen[key] {
				add("%s: duplicate account handle", where)
			} else if j, ok := files[file]; ok {
				add("%s: state file name %q is also used by accounts[%d]", where, file, j)
			}
			seen[key] = true
			if _, ok := files[file]; !ok {
				files[file] = i
			}
		}
		if a.AppPassword == "" {
			if a.AppPasswordEnv != "" {
				add("%s: environment variable %s is empty or unset", where, a.AppPasswordEnv)
			} else {
				add("%s: app_password or app_password_env is required", where)
			}
		}
		checkURL := func(key, raw string) {
			if raw == "" {
				return
			}
			u, err := url.Parse(raw)
			if err != nil || u.Scheme == "" || u.Host == "" {
				add("%s: %s %q is not an absolute URL", where, key, raw)
			}
		}
		checkURL("service", a.Service)
		checkURL("proxy", a.Proxy)
		nonNeg(where, "delay_seconds", a.DelaySeconds)
		nonNeg(where, "follow_delay_seconds", a.FollowDelaySeconds)
		nonNeg(where, "like_delay_seconds", a.LikeDelaySeconds)
		nonNeg(where, "dm_delay_seconds", a.DMDelaySeconds)
		if n := a.NewFollowersPageSize; n != nil && (*n < 1 || *n > maxNewFollowersPerPage) {
			add("%s: new_followers_page_size must be between 1 and %d", where, maxNewFollowersPerPage)
		}
		for _, h := range a.QuietHours {
			if h < 0 || h > 23 {
				add("%s: quiet hour %d is outside 0..23", where, h)
			}
		}
		for j, t := range a.FollowTargets {
			tw := fmt.Sprintf("%s follow_targets[%d]", where, j)
			if util.IsBlank(t.Handle) {
				add("%s: handle is required", tw)
			}
			if t.FollowLimit != nil && *t.FollowLimit < 0 {
				add("%s: follow_limit must be >= 0", tw)
			}
			if t.LikeLimit != nil && *t.LikeLimit < 0 {
				add("%s: like_limit must be >= 0", tw)
			}
		}
		if a.DM.LimitPerRun != nil && *a.DM.LimitPerRun < 0 {
			add("%s: dm.limit_per_run must be >= 0", where)
		}
		if a.DM.CooldownHours < 0 {
			add("%s: dm.cooldown_hours must be >= 0", where)
		}
		if a.DM.Enabled && util.IsBlank(a.DM.Message) {
			add("%s: dm.message is required when dm is enabled", where)
		}
	}

	switch c.Backend() {
	case BackendJSON, BackendSQLite:
	default:
		add("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.LockStaleAfter != nil && *c.Storage.LockStaleAfter < 0 {
		add("storage: lock_stale_after must be >= 0")
	}

	if len(errs) == 0 {
		return nil
	}
	return &Error{Err: errors.Join(errs...)}
}
