package userconfig

import (
	"errors"
	"fmt"
	"io"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Settings represents one settings file: which SMTP server to target, the
// envelope to use, and which eml files to push through it. Not meant to be
// used for sending before CheckAndSetDefaults has run.
type Settings struct {
	SMTPHost        string   `yaml:"smtpHost"`
	SMTPPort        int      `yaml:"smtpPort"`
	FromAddress     string   `yaml:"fromAddress"`
	ToAddresses     []string `yaml:"toAddresses"`
	EmlFiles        []string `yaml:"emlFiles"`
	UpdateDate      bool     `yaml:"updateDate"`
	UpdateMessageID bool     `yaml:"updateMessageId"`
	UseParallel     bool     `yaml:"useParallel"`
	// Directory for the send-history database. Empty disables history.
	HistoryDir string `yaml:"historyDir"`
	// Socket read timeout for the whole connection, e.g. "30s".
	// Empty means no timeout.
	ReadTimeout string `yaml:"readTimeout"`

	// Parsed form of ReadTimeout, filled in by CheckAndSetDefaults.
	Timeout time.Duration `yaml:"-"`
}

// ServerAddress returns the host:port of the target SMTP server.
func (s *Settings) ServerAddress() string {
	return fmt.Sprintf("%v:%v", s.SMTPHost, s.SMTPPort)
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *Settings) CheckAndSetDefaults() (Settings, error) {
	if s.SMTPHost == "" {
		return Settings{}, errors.New(
			"user-provided settings do not include an smtpHost",
		)
	}

	if s.SMTPPort == 0 {
		s.SMTPPort = 25
	}
	if s.SMTPPort < 1 || s.SMTPPort > 65535 {
		return Settings{}, fmt.Errorf("smtpPort %v is outside 1-65535", s.SMTPPort)
	}

	if s.FromAddress == "" {
		return Settings{}, errors.New(
			"user-provided settings do not include a fromAddress",
		)
	}

	if len(s.ToAddresses) == 0 {
		return Settings{}, errors.New(
			"must include at least one address within \"toAddresses\"",
		)
	}
	for _, a := range s.ToAddresses {
		if a == "" {
			return Settings{}, errors.New("\"toAddresses\" contains an empty address")
		}
	}

	if len(s.EmlFiles) == 0 {
		return Settings{}, errors.New(
			"must include at least one path within \"emlFiles\"",
		)
	}

	if s.ReadTimeout != "" {
		d, err := time.ParseDuration(s.ReadTimeout)
		if err != nil {
			return Settings{}, fmt.Errorf(
				"can't parse the user-provided readTimeout as a duration: %v",
				err,
			)
		}
		if d < 0 {
			return Settings{}, errors.New("readTimeout must not be negative")
		}
		s.Timeout = d
	}

	return *s, nil
}

// Parse generates usable settings from possibly arbitrary user input.
// An error indicates a problem with parsing. The Reader r can be either
// JSON or YAML.
func Parse(r io.Reader) (*Settings, error) {
	var s Settings
	err := yaml.NewDecoder(r).Decode(&s)
	if err != nil {
		return &Settings{}, fmt.Errorf("can't read the settings file as JSON or YAML: %v", err)
	}

	return &s, nil
}
