package e2e

import (
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/sendeml/sendeml/runner"
	"github.com/sendeml/sendeml/smtptest"
	"github.com/sendeml/sendeml/userconfig"
)

// A message whose Date and Message-ID are folded, so the tests can tell a
// rewritten field from an original one.
const testEmlTemplate = "From: a001 <a001@ah62.example.jp>\r\n" +
	"Subject: SUBJECT\r\n" +
	"To: a002@ah62.example.jp\r\n" +
	"Message-ID:\r\n" +
	" <b0e564a5-4f70-761a-e103-70119d1bcb32@ah62.example.jp>\r\n" +
	"Date: Sun, 26\r\n" +
	" Jul 2020 22:01:37 +0900\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"BODY\r\n"

func writeEmlFile(t *testing.T, dir string, name string) string {
	t.Helper()
	msg := strings.ReplaceAll(testEmlTemplate, "SUBJECT", name)
	msg = strings.ReplaceAll(msg, "BODY", "body of "+name)
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(msg), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

// startServer launches a test SMTP server and returns it behind the
// smtptest.Server seam, so these tests only depend on what any receiving
// server can do: start, stop, and hand back what it was sent.
func startServer(t *testing.T) smtptest.Server {
	t.Helper()
	srv, err := smtptest.NewInProcessServer()
	if err != nil {
		t.Fatal(err)
	}
	go func(srv smtptest.Server) {
		srv.Start()
	}(srv)
	return srv
}

func settingsFor(t *testing.T, srv smtptest.Server, files []string) userconfig.Settings {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Address())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	s := userconfig.Settings{
		SMTPHost:    host,
		SMTPPort:    port,
		FromAddress: "a001@ah62.example.jp",
		ToAddresses: []string{"a002@ah62.example.jp"},
		EmlFiles:    files,
	}
	checked, err := s.CheckAndSetDefaults()
	if err != nil {
		t.Fatal(err)
	}
	return checked
}

func TestSequentialSendDeliversExactBytes(t *testing.T) {
	srv := startServer(t)
	defer srv.Close()

	dir := t.TempDir()
	files := []string{
		writeEmlFile(t, dir, "first.eml"),
		filepath.Join(dir, "missing.eml"),
		writeEmlFile(t, dir, "second.eml"),
	}
	settings := settingsFor(t, srv, files)

	if err := runner.Run(&settings); err != nil {
		t.Fatal(err)
	}

	got, err := srv.RetrieveEmails(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected to have sent 2 emails but sent %v", len(got))
	}

	// With no update flags set, every original byte must reach the server:
	// the folded Date, the folded Message-ID, and the bodies.
	for i, name := range []string{"first.eml", "second.eml"} {
		if !strings.Contains(got[i], "body of "+name) {
			t.Errorf("message %v is missing its body", i)
		}
		if !strings.Contains(got[i], "Date: Sun, 26\r\n Jul 2020 22:01:37 +0900") {
			t.Errorf("message %v lost its folded Date field", i)
		}
		if !strings.Contains(got[i], "Message-ID:\r\n <b0e564a5") {
			t.Errorf("message %v lost its folded Message-ID field", i)
		}
	}
}

func TestSequentialSendRewritesHeaders(t *testing.T) {
	srv := startServer(t)
	defer srv.Close()

	dir := t.TempDir()
	files := []string{writeEmlFile(t, dir, "rewrite.eml")}
	settings := settingsFor(t, srv, files)
	settings.UpdateDate = true
	settings.UpdateMessageID = true
	settings.HistoryDir = filepath.Join(dir, "history")

	if err := runner.Run(&settings); err != nil {
		t.Fatal(err)
	}

	got, err := srv.RetrieveEmails(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected to have sent 1 email but sent %v", len(got))
	}

	dates := smtptest.ExtractHeaderLines(got[0], "Date")
	if len(dates) != 1 {
		t.Fatalf("wanted exactly one Date line but got %v", len(dates))
	}
	if strings.Contains(dates[0], "Sun, 26") {
		t.Error("the Date field was not regenerated")
	}

	ids := smtptest.ExtractHeaderLines(got[0], "Message-ID")
	if len(ids) != 1 {
		t.Fatalf("wanted exactly one Message-ID line but got %v", len(ids))
	}
	idRe := regexp.MustCompile(`^Message-ID: <[A-Za-z0-9]{62}>\r?$`)
	if !idRe.MatchString(ids[0]) {
		t.Errorf("unexpected regenerated Message-ID line %q", ids[0])
	}

	if !strings.Contains(got[0], "body of rewrite.eml") {
		t.Error("the body bytes changed during the rewrite")
	}
}

func TestParallelSendOneConnectionPerFile(t *testing.T) {
	srv := startServer(t)
	defer srv.Close()

	dir := t.TempDir()
	files := []string{
		writeEmlFile(t, dir, "p1.eml"),
		writeEmlFile(t, dir, "p2.eml"),
		writeEmlFile(t, dir, "p3.eml"),
	}
	settings := settingsFor(t, srv, files)
	settings.UseParallel = true

	if err := runner.Run(&settings); err != nil {
		t.Fatal(err)
	}

	got, err := srv.RetrieveEmails(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected to have sent 3 emails but sent %v", len(got))
	}

	// Arrival order is arbitrary across workers; every body must be
	// present exactly once.
	for _, name := range []string{"p1.eml", "p2.eml", "p3.eml"} {
		var n int
		for _, m := range got {
			if strings.Contains(m, "body of "+name) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("wanted 1 delivery of %v but found %v", name, n)
		}
	}
}
