package types

import "fmt"

// RateControlMode represents the rate control strategy
type RateControlMode string

const (
	RateControlCBR RateControlMode = "cbr" // Constant bitrate
	RateControlVBR RateControlMode = "vbr" // Variable bitrate
)

// QualityParams represents quality and rate control settings for one session
type QualityParams struct {
	Mode              RateControlMode `toml:"mode" json:"mode"`
	TargetBitrateKbps int             `toml:"target_bitrate_kbps" json:"target_bitrate_kbps"`
	MaxBitrateKbps    int             `toml:"max_bitrate_kbps" json:"max_bitrate_kbps"`
	GOPLength         int             `toml:"gop_length" json:"gop_length"` // Key frame interval
	BFrames           int             `toml:"b_frames" json:"b_frames"`
	LowLatency        bool            `toml:"low_latency" json:"low_latency"`
}

// ConstantBitrate reports whether CBR rate control is requested.
func (q QualityParams) ConstantBitrate() bool {
	return q.Mode == RateControlCBR
}

// ParseRateControl converts a config string to a RateControlMode.
func ParseRateControl(s string) (RateControlMode, error) {
	switch RateControlMode(s) {
	case RateControlCBR, RateControlVBR:
		return RateControlMode(s), nil
	case "":
		return RateControlVBR, nil
	default:
		return "", fmt.Errorf("unknown rate control mode %q", s)
	}
}
