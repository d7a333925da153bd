package runner

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/sendeml/sendeml/history"
	"github.com/sendeml/sendeml/smtptest"
	"github.com/sendeml/sendeml/userconfig"
)

// recordingStore implements history.KeyValue and counts the calls it
// receives, so tests can check that the runner both records send attempts
// and garbage-collects the store when it's done with them.
type recordingStore struct {
	mu       sync.Mutex
	puts     int
	cleanups int
}

func (r *recordingStore) Put(history.KVEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	return nil
}

func (r *recordingStore) Read(key []byte) (history.KVEntry, error) {
	return history.KVEntry{}, errors.New("not found")
}

func (r *recordingStore) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups++
	return nil
}

func (r *recordingStore) Close() error { return nil }

func writeEmlFile(t *testing.T, dir string, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	msg := "From: a@example.com\r\nTo: b@example.com\r\nSubject: " + name +
		"\r\n\r\nbody of " + name + "\r\n"
	if err := os.WriteFile(p, []byte(msg), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunWithStoreRecordsAndCleansUp(t *testing.T) {
	srv, err := smtptest.NewInProcessServer()
	if err != nil {
		t.Fatal(err)
	}
	go func(srv smtptest.Server) {
		srv.Start()
	}(srv)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Address())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	s := userconfig.Settings{
		SMTPHost:    host,
		SMTPPort:    port,
		FromAddress: "a@example.com",
		ToAddresses: []string{"b@example.com"},
		EmlFiles: []string{
			writeEmlFile(t, dir, "one.eml"),
			writeEmlFile(t, dir, "two.eml"),
		},
	}
	checked, err := s.CheckAndSetDefaults()
	if err != nil {
		t.Fatal(err)
	}

	store := &recordingStore{}
	if err := runWithStore(&checked, store); err != nil {
		t.Fatal(err)
	}

	if store.puts != 2 {
		t.Errorf("wanted one history entry per file (2) but got %v", store.puts)
	}
	if store.cleanups != 1 {
		t.Errorf("wanted the store cleaned up exactly once but got %v", store.cleanups)
	}
}
