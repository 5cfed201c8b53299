package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ExitFunc is os.Exit outside of tests.
var ExitFunc = os.Exit

// Step is one teardown action, run in the order given to Shutdown.
type Step struct {
	Name  string
	Close func() error
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Teardown runs every step, logging failures, and reports whether all succeeded.
func Teardown(steps ...Step) bool {
	ok := true
	for _, step := range steps {
		if step.Close == nil {
			continue
		}
		if err := step.Close(); err != nil {
			ok = false
			log.Error().Err(err).Str("step", step.Name).Msg("Teardown step failed")
			continue
		}
		log.Debug().Str("step", step.Name).Msg("Teardown step done")
	}
	return ok
}

func Shutdown(steps ...Step) {
	Teardown(steps...)
	log.Info().Msg("Supervisor stopped")
	ExitFunc(0)
}

func ShutdownWithError(err error, msg string, steps ...Step) {
	log.Error().Err(err).Msg(msg)
	Teardown(steps...)
	ExitFunc(1)
}
