package main

import (
	"flag"
	"os"

	"github.com/sendeml/sendeml/runner"
	"github.com/sendeml/sendeml/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if flag.NArg() == 0 {
		log.Error().Msg("usage: sendeml [flags] settings.json ...")
		os.Exit(1)
	}

	// Each settings file names an independent batch of sends. A failure in
	// one must not keep us from attempting the rest, so we only record
	// whether any batch failed and keep looping.
	var failed bool
	for _, path := range flag.Args() {
		if err := runBatch(path); err != nil {
			log.Error().
				Str("settingsPath", path).
				Err(err).
				Msg("could not complete the sends for this settings file")
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// runBatch parses and validates one settings file, then hands it to the
// runner. Validation problems surface here, before any connection is opened.
func runBatch(path string) error {
	log.Info().Str("settingsPath", path).Msg("processing a settings file")

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	settings, err := userconfig.Parse(f)
	if err != nil {
		return err
	}

	checked, err := settings.CheckAndSetDefaults()
	if err != nil {
		return err
	}

	return runner.Run(&checked)
}
