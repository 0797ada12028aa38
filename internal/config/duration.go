package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied when a timeout field is left empty.
const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = time.Minute
	defaultAssetTimeout = 30 * time.Second
)

func parseTimeout(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Timeouts resolves the server timeout strings, defaulting each empty field.
func (s Server) Timeouts() (read, write, idle time.Duration, err error) {
	if read, err = parseTimeout("server.read_timeout", s.ReadTimeout, defaultReadTimeout); err != nil {
		return 0, 0, 0, err
	}
	if write, err = parseTimeout("server.write_timeout", s.WriteTimeout, defaultWriteTimeout); err != nil {
		return 0, 0, 0, err
	}
	if idle, err = parseTimeout("server.idle_timeout", s.IdleTimeout, defaultIdleTimeout); err != nil {
		return 0, 0, 0, err
	}
	return read, write, idle, nil
}

// RequestTimeout resolves the asset host request timeout.
func (a Assets) RequestTimeout() (time.Duration, error) {
	return parseTimeout("assets.timeout", a.Timeout, defaultAssetTimeout)
}

// BusyWait resolves the sqlite busy timeout; zero means the driver default.
func (s Storage) BusyWait() (time.Duration, error) {
	return parseTimeout("storage.busy_timeout", s.BusyTimeout, 0)
}
