package domain

import "time"

// TokenPair is a backend session issued by a login exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Evaluation is one decision produced by a polling tick.
type Evaluation struct {
	TickID   string        `json:"tick_id"`
	Server   string        `json:"server"`
	Kind     string        `json:"kind"`
	Decision SwitchType    `json:"decision"`
	Scene    string        `json:"scene,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}
