package domain

import "fmt"

// Decide reduces one telemetry reading to a switch decision.
//
// ok reports whether the fetch succeeded at all; an unreachable backend is
// always Offline. Thresholds are inclusive and offline is checked before
// low. A successful zero reading means the backend is connected but silent,
// which keeps the previous scene whatever the triggers say.
func Decide(ok bool, bitrateKbit float64, triggers *Triggers) SwitchType {
	if !ok {
		return SwitchOffline
	}

	if triggers != nil && triggers.Offline != nil {
		if bitrateKbit > 0 && bitrateKbit <= float64(*triggers.Offline) {
			return SwitchOffline
		}
	}

	if triggers != nil && triggers.Low != nil {
		if bitrateKbit > 0 && bitrateKbit <= float64(*triggers.Low) {
			return SwitchLow
		}
	}

	if bitrateKbit == 0 {
		return SwitchPrevious
	}

	return SwitchNormal
}

// Bitrate is the display value for the bitrate chat command.
// A nil Message means there is no usable reading.
type Bitrate struct {
	Message *string `json:"message"`
}

// FormatBitrate truncates the reading to whole kbit/s. Zero and negative
// readings have no message.
func FormatBitrate(bitrateKbit float64) Bitrate {
	if bitrateKbit <= 0 {
		return Bitrate{}
	}
	msg := fmt.Sprintf("%d", uint64(bitrateKbit))
	return Bitrate{Message: &msg}
}

// FormatSourceInfo renders the one line status used by the source info command.
func FormatSourceInfo(bitrateKbit float64, dropped uint64) string {
	return fmt.Sprintf("%.1f Kbps | dropped %d packets", bitrateKbit, dropped)
}
