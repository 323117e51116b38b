package domain

import (
	"fmt"
	"strings"
)

// SwitchType is the decision handed to the scene switcher.
type SwitchType int

const (
	SwitchOffline SwitchType = iota
	SwitchLow
	SwitchNormal
	// SwitchPrevious keeps whatever scene is currently active.
	SwitchPrevious
)

func (s SwitchType) String() string {
	switch s {
	case SwitchOffline:
		return "offline"
	case SwitchLow:
		return "low"
	case SwitchNormal:
		return "normal"
	case SwitchPrevious:
		return "previous"
	default:
		return "unknown"
	}
}

// ParseSwitchType is the inverse of String.
func ParseSwitchType(s string) (SwitchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline":
		return SwitchOffline, nil
	case "low":
		return SwitchLow, nil
	case "normal":
		return SwitchNormal, nil
	case "previous":
		return SwitchPrevious, nil
	}
	return 0, fmt.Errorf("unknown switch type %q", s)
}

func (s SwitchType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SwitchType) UnmarshalText(text []byte) error {
	v, err := ParseSwitchType(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Triggers holds the operator configured bitrate floors in kbit/s.
// A nil field is unset. Rtt values are in milliseconds and only
// meaningful for SRT style backends.
type Triggers struct {
	Low        *uint32 `json:"low,omitempty" yaml:"low,omitempty"`
	Rtt        *uint32 `json:"rtt,omitempty" yaml:"rtt,omitempty"`
	Offline    *uint32 `json:"offline,omitempty" yaml:"offline,omitempty"`
	RttOffline *uint32 `json:"rttOffline,omitempty" yaml:"rttOffline,omitempty"`
}

// SwitchingScenes maps each decision to an output scene name.
type SwitchingScenes struct {
	Normal  string `json:"normal" yaml:"normal"`
	Low     string `json:"low" yaml:"low"`
	Offline string `json:"offline" yaml:"offline"`
}

// Scene returns the scene configured for the decision. Previous has no
// scene of its own and reports false.
func (s SwitchingScenes) Scene(t SwitchType) (string, bool) {
	switch t {
	case SwitchNormal:
		return s.Normal, true
	case SwitchLow:
		return s.Low, true
	case SwitchOffline:
		return s.Offline, true
	}
	return "", false
}
