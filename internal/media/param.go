package media

import (
	"errors"
	"fmt"
)

// Param identifies a runtime parameter on the player, the render engine or
// a device sink. Values keep the numbering of the original engine so hosts
// can pass ids through unchanged.
type Param uint32

const (
	ParamMediaDuration Param = 0x1000 + iota
	ParamMediaPosition
	ParamVideoWidth
	ParamVideoHeight
	ParamVideoMode
	ParamAudioVolume
	ParamPlaySpeedValue
	ParamPlaySpeedType
	ParamVisualEffect
	ParamAVSyncTimeDiff
	ParamPlayerInitParams
	ParamDefinitionValue
	ParamDatarateValue
)

const (
	ParamAdevGetContext Param = 0x2000
)

const (
	ParamVdevGetContext  Param = 0x3000
	ParamVdevPostSurface Param = 0x3001
	ParamVdevGetVRect    Param = 0x3006
)

const (
	ParamRenderGetContext  Param = 0x4000 + iota
	ParamRenderStepForward
	ParamRenderVdevWin
	ParamRenderSourceRect
)

var paramNames = map[Param]string{
	ParamMediaDuration:     "media_duration",
	ParamMediaPosition:     "media_position",
	ParamVideoWidth:        "video_width",
	ParamVideoHeight:       "video_height",
	ParamVideoMode:         "video_mode",
	ParamAudioVolume:       "audio_volume",
	ParamPlaySpeedValue:    "play_speed_value",
	ParamPlaySpeedType:     "play_speed_type",
	ParamVisualEffect:      "visual_effect",
	ParamAVSyncTimeDiff:    "avsync_time_diff",
	ParamPlayerInitParams:  "player_init_params",
	ParamDefinitionValue:   "definition_value",
	ParamDatarateValue:     "datarate_value",
	ParamAdevGetContext:    "adev_get_context",
	ParamVdevGetContext:    "vdev_get_context",
	ParamVdevPostSurface:   "vdev_post_surface",
	ParamVdevGetVRect:      "vdev_get_vrect",
	ParamRenderGetContext:  "render_get_context",
	ParamRenderStepForward: "render_stepforward",
	ParamRenderVdevWin:     "render_vdev_win",
	ParamRenderSourceRect:  "render_source_rect",
}

// String returns the snake_case name of the parameter
func (p Param) String() string {
	if name, ok := paramNames[p]; ok {
		return name
	}
	return fmt.Sprintf("param_%#x", uint32(p))
}

// ParseParam resolves a parameter from its name or numeric id.
func ParseParam(s string) (Param, bool) {
	for p, name := range paramNames {
		if name == s {
			return p, true
		}
	}
	var id uint32
	if _, err := fmt.Sscanf(s, "%v", &id); err == nil {
		if _, ok := paramNames[Param(id)]; ok {
			return Param(id), true
		}
	}
	return 0, false
}

// VideoMode selects how video is fitted into the render rectangle.
type VideoMode int

const (
	VideoModeLetterbox VideoMode = iota
	VideoModeStretched
)

// VisualEffect selects the audio visualisation drawn when there is no video.
type VisualEffect int

const (
	VisualEffectDisable VisualEffect = iota
	VisualEffectWaveform
	VisualEffectSpectrum
)

// SpeedType selects how playback speed is applied to audio.
type SpeedType int

const (
	// SpeedResample changes the output sample rate, shifting pitch.
	SpeedResample SpeedType = iota
	// SpeedPitchPreserving time-stretches at the nominal rate.
	SpeedPitchPreserving
)

// ErrInvalidValue reports a parameter value of the wrong type.
var ErrInvalidValue = errors.New("invalid parameter value")

// IntValue coerces a parameter value supplied by a host.
func IntValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	case float32:
		return int(n), nil
	case VideoMode:
		return int(n), nil
	case VisualEffect:
		return int(n), nil
	case SpeedType:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: expected integer, got %T", ErrInvalidValue, v)
	}
}
