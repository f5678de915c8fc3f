package observations

import "codeberg.org/mutker/weatherd/internal/errors"

const (
	defaultDirPerm    = 0o755
	defaultDBPath     = "/var/lib/weatherd/weatherd.db"
	defaultResolution = 15
)

type Config struct {
	DBPath string
	// DefaultResolution is applied to ingested readings that do not
	// declare their own sampling resolution, in minutes.
	DefaultResolution int
}

func DefaultConfig() Config {
	return Config{
		DBPath:            defaultDBPath,
		DefaultResolution: defaultResolution,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.DefaultResolution <= 0 {
		return errFactory.WithData(ErrInvalidResolution, c.DefaultResolution)
	}

	return nil
}
