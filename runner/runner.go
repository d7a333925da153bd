package runner

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sendeml/sendeml/history"
	"github.com/sendeml/sendeml/smtpclient"
	"github.com/sendeml/sendeml/userconfig"
)

// Run performs every send described by one validated settings record. With
// useParallel and more than one eml file, each file gets its own
// connection and session, run concurrently; otherwise one session carries
// the whole file list over a single connection, with RSET between
// messages. Returns the first session failure, after every session has
// finished and been recorded.
func Run(s *userconfig.Settings) error {
	var db history.KeyValue
	if s.HistoryDir == "" {
		db = &history.NoOpDB{}
	} else {
		var err error
		db, err = history.NewBadgerDB(&history.KVConfig{
			StorageDirPath: s.HistoryDir,
			// Keep send records around long enough to compare several
			// interoperability runs against each other.
			KeyTTLDuration: time.Duration(30*24) * time.Hour,
		})
		if err != nil {
			return err
		}
		defer db.Close()
	}

	return runWithStore(s, db)
}

// runWithStore runs the sessions against an already-open history store.
func runWithStore(s *userconfig.Settings, db history.KeyValue) error {
	var err error
	if s.UseParallel && len(s.EmlFiles) > 1 {
		err = runParallel(s, db)
	} else {
		err = runSession(s, s.EmlFiles, log.Logger)
		record(db, s.EmlFiles, err)
	}

	// Get rid of old keys just before we close. Records only leave the
	// store when this runs, so expired TTLs would otherwise pile up.
	if cerr := db.Cleanup(); cerr != nil {
		log.Error().Err(cerr).Msg("error cleaning up the history database")
	}
	return err
}

// runParallel opens one independent connection per eml file. Workers share
// nothing mutable: the settings are read-only, each worker owns its
// connection end to end, and each records its result in its own slot. One
// worker's failure is reported but never cancels its siblings.
func runParallel(s *userconfig.Settings, db history.KeyValue) error {
	log.Info().
		Int("count", len(s.EmlFiles)).
		Msg("launching one session per file")

	results := make([]error, len(s.EmlFiles))
	var g errgroup.Group
	for i, path := range s.EmlFiles {
		i, path := i, path
		g.Go(func() error {
			logger := log.With().
				Str("worker", filepath.Base(path)).
				Str("session", uuid.New().String()).
				Logger()
			results[i] = runSession(s, []string{path}, logger)
			return nil
		})
	}
	// Workers never return errors through the group, so this only joins.
	g.Wait()

	var firstErr error
	for i, err := range results {
		record(db, s.EmlFiles[i:i+1], err)
		if err != nil {
			log.Error().
				Str("emlFile", s.EmlFiles[i]).
				Err(err).
				Msg("a session failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("session for %v: %v", s.EmlFiles[i], err)
			}
		}
	}
	return firstErr
}

// runSession opens one connection and drives one full session over it.
func runSession(s *userconfig.Settings, files []string, logger zerolog.Logger) error {
	logger.Info().
		Str("server", s.ServerAddress()).
		Msg("connecting")

	c, err := smtpclient.Dial(s.ServerAddress(), s.Timeout, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.SendMessages(s, files)
}

// record writes one history entry per file covered by a session. Write
// failures only warrant a log line: history is an aid, not a gate.
func record(db history.KeyValue, files []string, result error) {
	outcome := "ok"
	if result != nil {
		outcome = result.Error()
	}
	for _, f := range files {
		if err := db.Put(history.NewEntry(f, outcome, time.Now())); err != nil {
			log.Debug().
				Str("emlFile", f).
				Err(err).
				Msg("could not record the send attempt")
		}
	}
}
