// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import "fmt"

// Mode selects the connection-reuse regime of an experiment.
type Mode int

const (
	// ModeColdCold opens a new transport and negotiates a new session
	// for every sample.
	ModeColdCold Mode = iota

	// ModeWarmCold keeps one transport for the whole experiment and
	// negotiates a new session over it for every sample.
	ModeWarmCold

	// ModeWarmWarm keeps one transport and one session for the whole
	// experiment.
	ModeWarmWarm
)

// AllModes lists the modes in the order [*Runner.RunAll] runs them.
var AllModes = []Mode{ModeColdCold, ModeWarmCold, ModeWarmWarm}

// String returns the short name used on the command line.
func (m Mode) String() string {
	switch m {
	case ModeColdCold:
		return "cold-cold"
	case ModeWarmCold:
		return "warm-cold"
	case ModeWarmWarm:
		return "warm-warm"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Title returns the human readable experiment title.
func (m Mode) Title() string {
	switch m {
	case ModeColdCold:
		return "Cold TCP & Cold TLS"
	case ModeWarmCold:
		return "Warm TCP & Cold TLS"
	case ModeWarmWarm:
		return "Warm TCP & Warm TLS"
	default:
		return m.String()
	}
}

// KeepAlive returns whether the channel survives between samples.
func (m Mode) KeepAlive() bool {
	return m != ModeColdCold
}

// ForceRenegotiate returns whether every sample negotiates a new session.
func (m Mode) ForceRenegotiate() bool {
	return m == ModeWarmCold
}

// MarshalText implements [encoding.TextMarshaler].
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode parses the short name of a mode.
func ParseMode(value string) (Mode, error) {
	for _, m := range AllModes {
		if m.String() == value {
			return m, nil
		}
	}
	return 0, fmt.Errorf("tlsreuse: unknown mode %q", value)
}
