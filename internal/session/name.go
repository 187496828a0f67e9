package session

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/minichat/internal/config"
)

const (
	// DefaultSessionName is used when nothing else names a session.
	DefaultSessionName = "main"
	// EnvSession names the session when no flag does.
	EnvSession = "MINICHAT_SESSION"
)

// ErrInvalidName is returned for names that cannot be a directory name.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Resolve picks the session name, first match wins:
//  1. flagOverride (--session)
//  2. $MINICHAT_SESSION
//  3. default_session in config.toml
//  4. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvSession); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ValidateName checks that name is usable as a session directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-64 of a-z, 0-9, '_' or '-'", ErrInvalidName, name)
	}
	return nil
}
