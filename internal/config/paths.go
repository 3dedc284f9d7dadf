package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".masitaprex"

// Paths is the bot's on-disk layout under MASITAPREX_HOME.
type Paths struct {
	Base     string
	Config   string // config.yaml
	Sessions string // paired WhatsApp credentials, one directory per session
	Logs     string
	Data     string // the SQLite database
}

// ResolvePaths lays the directories out under MASITAPREX_HOME, or
// ~/.masitaprex when it is unset.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("MASITAPREX_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	return Paths{
		Base:     base,
		Config:   filepath.Join(base, "config.yaml"),
		Sessions: filepath.Join(base, "sessions"),
		Logs:     filepath.Join(base, "logs"),
		Data:     filepath.Join(base, "data"),
	}, nil
}

// Database is where the store opens its file unless store.path is set.
func (p Paths) Database() string {
	return filepath.Join(p.Data, "masitaprex.db")
}

// EnsureDirs creates the layout. Session credentials are secrets, so
// everything is private to the user.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Sessions, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
