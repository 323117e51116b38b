package restreamer

import (
	"encoding/json"
	"fmt"

	"streamguard/internal/core/domain"
)

// About is the unauthenticated API root response.
type About struct {
	App     string   `json:"app"`
	Auths   []string `json:"auths"`
	Version struct {
		Number string `json:"number"`
	} `json:"version"`
}

// SupportsAuth reports whether the server advertises the given auth method.
func (a *About) SupportsAuth(method string) bool {
	for _, m := range a.Auths {
		if m == method {
			return true
		}
	}
	return false
}

type Cleanup struct {
	MaxFileAgeSeconds int64  `json:"max_file_age_seconds"`
	MaxFiles          int64  `json:"max_files"`
	Pattern           string `json:"pattern"`
	PurgeOnDelete     bool   `json:"purge_on_delete"`
}

type InputOutput struct {
	Address string    `json:"address"`
	Cleanup []Cleanup `json:"cleanup,omitempty"`
	ID      string    `json:"id"`
	Options []string  `json:"options"`
}

type PacketCounter struct {
	Packet int64  `json:"packet"`
	SizeKB int64  `json:"size_kb"`
	State  string `json:"state"`
	Time   int64  `json:"time"`
}

type AVStream struct {
	AQueue      int64         `json:"aqueue"`
	Drop        int64         `json:"drop"`
	Dup         int64         `json:"dup"`
	Duplicating bool          `json:"duplicating"`
	Enc         int64         `json:"enc"`
	GOP         string        `json:"gop"`
	Input       PacketCounter `json:"input"`
	Looping     bool          `json:"looping"`
	Output      PacketCounter `json:"output"`
	Queue       int64         `json:"queue"`
}

// StreamProgress is the per input or output stream detail of a process.
type StreamProgress struct {
	Address     string    `json:"address"`
	AVStream    *AVStream `json:"avstream,omitempty"`
	BitrateKbit float64   `json:"bitrate_kbit"`
	Channels    *int64    `json:"channels,omitempty"`
	Codec       string    `json:"codec"`
	Coder       string    `json:"coder"`
	Format      string    `json:"format"`
	FPS         float64   `json:"fps"`
	Frame       uint64    `json:"frame"`
	Height      *uint64   `json:"height,omitempty"`
	ID          string    `json:"id"`
	Index       uint64    `json:"index"`
	Layout      string    `json:"layout,omitempty"`
	Packet      uint64    `json:"packet"`
	PixFmt      string    `json:"pix_fmt,omitempty"`
	PPS         float64   `json:"pps"`
	Q           float64   `json:"q"`
	SamplingHz  *float64  `json:"sampling_hz,omitempty"`
	SizeKB      uint64    `json:"size_kb"`
	Stream      uint64    `json:"stream"`
	Type        string    `json:"type,omitempty"`
	Width       *uint64   `json:"width,omitempty"`
}

// Progress is the statistics snapshot of a running process.
type Progress struct {
	BitrateKbit float64          `json:"bitrate_kbit"`
	Drop        uint64           `json:"drop"`
	Dup         uint64           `json:"dup"`
	FPS         float64          `json:"fps"`
	Frame       uint64           `json:"frame"`
	Inputs      []StreamProgress `json:"inputs"`
	Outputs     []StreamProgress `json:"outputs"`
	Packet      uint64           `json:"packet"`
	Q           float64          `json:"q"`
	SizeKB      uint64           `json:"size_kb"`
	Speed       float64          `json:"speed"`
	Time        float64          `json:"time"`
}

type Limits struct {
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryMbytes   float64 `json:"memory_mbytes"`
	WaitForSeconds uint64  `json:"waitfor_seconds"`
}

type ProcessConfig struct {
	Autostart             bool          `json:"autostart"`
	ID                    string        `json:"id"`
	Input                 []InputOutput `json:"input"`
	Limits                Limits        `json:"limits"`
	Options               []string      `json:"options"`
	Output                []InputOutput `json:"output"`
	Reconnect             bool          `json:"reconnect"`
	ReconnectDelaySeconds uint64        `json:"reconnect_delay_seconds"`
	Reference             string        `json:"reference"`
	StaleTimeoutSeconds   uint64        `json:"stale_timeout_seconds"`
	Type                  string        `json:"type,omitempty"`
}

type ReportHistory struct {
	CreatedAt uint64     `json:"created_at"`
	Log       [][]string `json:"log"`
	Prelude   []string   `json:"prelude"`
}

type ProcessReport struct {
	CreatedAt uint64          `json:"created_at"`
	History   []ReportHistory `json:"history"`
	Log       [][]string      `json:"log"`
	Prelude   []string        `json:"prelude"`
}

type ProcessState struct {
	Command          []string  `json:"command"`
	CPUUsage         float64   `json:"cpu_usage"`
	Exec             string    `json:"exec"`
	LastLogline      string    `json:"last_logline"`
	MemoryBytes      uint64    `json:"memory_bytes"`
	Order            string    `json:"order"`
	Progress         *Progress `json:"progress"`
	ReconnectSeconds int64     `json:"reconnect_seconds"`
	RuntimeSeconds   uint64    `json:"runtime_seconds"`
}

// Process is the envelope returned by the process endpoint. Which parts are
// present depends on the filter sent with the request.
type Process struct {
	Config    *ProcessConfig  `json:"config,omitempty"`
	CreatedAt int64           `json:"created_at,omitempty"`
	ID        string          `json:"id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Report    *ProcessReport  `json:"report,omitempty"`
	State     *ProcessState   `json:"state,omitempty"`
	Type      string          `json:"type,omitempty"`
}

// Progress extracts the statistics snapshot. A response without state or
// progress is a fetch failure, never a zero reading. So is a negative bitrate.
func (p *Process) Progress() (*Progress, error) {
	if p == nil || p.State == nil || p.State.Progress == nil {
		return nil, domain.ErrStateMissing
	}
	if p.State.Progress.BitrateKbit < 0 {
		return nil, fmt.Errorf("%w: negative bitrate_kbit %v", ErrBadResponse, p.State.Progress.BitrateKbit)
	}
	return p.State.Progress, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}
