package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/actorctl/internal/logging"
)

func InitLogger(actor string) zerolog.Logger {
	logging.ConfigureRuntime()
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    logging.NoColor(),
	}
	logger := zerolog.New(output).With().
		Timestamp().
		Str("app", "actorctl").
		Str("actor", actor).
		Logger()
	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with the owning component
// (mailbox, wasm, chain, bridge).
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
