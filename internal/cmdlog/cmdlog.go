// Package cmdlog wraps CLI commands with logging and command metrics.
package cmdlog

import (
	"time"

	"github.com/rs/zerolog"

	"skyward/internal/metrics"
)

func Run(log zerolog.Logger, cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	if err != nil {
		metrics.IncCommandError(cmd)
		log.Error().Err(err).Str("command", cmd).Dur("elapsed", time.Since(start)).Msg("command failed")
	} else {
		log.Info().Str("command", cmd).Dur("elapsed", time.Since(start)).Msg("command finished")
	}
	return err
}
