package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// uiSliderScale is the divisor applied to slider fields that arrive on the
// client's [-100,100] (or [0,100]) scale before range validation.
const uiSliderScale = 100

// Params is the kind-specific payload of a job, validated as a single
// immutable unit at submission time.
type Params interface {
	// Normalize rewrites UI-scale values into their canonical ranges and
	// fills defaults. It runs exactly once, before Validate.
	Normalize()
	// Validate returns a *ValidationError when any field is out of range
	// or missing.
	Validate() error
}

// DecodeParams parses and normalizes the raw parameter payload for the
// given kind. Unknown fields are rejected so a payload built for one kind
// cannot silently pass as another.
func DecodeParams(kind JobKind, raw json.RawMessage) (Params, error) {
	var p Params
	switch kind {
	case KindPhotoToVideo:
		p = &PhotoToVideoParams{}
	case KindVideoTranslation:
		p = &VideoTranslationParams{}
	case KindEmotionControl:
		p = &EmotionControlParams{}
	case KindAudioReplacement:
		p = &AudioReplacementParams{}
	default:
		return nil, fmt.Errorf("decode params: unsupported kind %q", kind)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		verr := &ValidationError{}
		return nil, verr.Add("parameters", fmt.Sprintf("malformed payload: %v", err))
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// PhotoToVideoParams animates a still photo into a short clip.
type PhotoToVideoParams struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	AspectRatio     string  `json:"aspect_ratio"`
}

var photoToVideoAspects = map[string]struct{}{
	"16:9": {}, "9:16": {}, "1:1": {}, "4:3": {}, "3:4": {},
}

func (p *PhotoToVideoParams) Normalize() {
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.DurationSeconds == 0 {
		p.DurationSeconds = 5
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
}

func (p *PhotoToVideoParams) Validate() error {
	verr := &ValidationError{}
	if p.Prompt == "" {
		verr.Add("prompt", "required")
	} else if len(p.Prompt) > 2000 {
		verr.Add("prompt", "must be at most 2000 characters")
	}
	if p.DurationSeconds < 1 || p.DurationSeconds > 30 {
		verr.Add("duration_seconds", "must be between 1 and 30")
	}
	if _, ok := photoToVideoAspects[p.AspectRatio]; !ok {
		verr.Add("aspect_ratio", "must be one of 16:9, 9:16, 1:1, 4:3, 3:4")
	}
	return verr.OrNil()
}

// VideoTranslationParams re-voices a video into a target language.
type VideoTranslationParams struct {
	TargetLanguage string `json:"target_language"`
	KeepVoiceTone  bool   `json:"keep_voice_tone"`
}

func (p *VideoTranslationParams) Normalize() {
	p.TargetLanguage = strings.TrimSpace(p.TargetLanguage)
}

func (p *VideoTranslationParams) Validate() error {
	verr := &ValidationError{}
	if p.TargetLanguage == "" {
		verr.Add("target_language", "required")
	} else if _, err := language.Parse(p.TargetLanguage); err != nil {
		verr.Add("target_language", "must be a valid BCP-47 language tag")
	}
	return verr.OrNil()
}

// EmotionControlParams carries the facial retargeting sliders. Emotion and
// gaze sliders arrive on the client's [-100,100] scale (mouth on [0,100])
// and are normalized to [-1,1] ([0,1]); head pose stays in degrees and
// expression strength in its final [0,2] scale.
type EmotionControlParams struct {
	SmileIntensity     float64 `json:"smile_intensity"`
	EyeOpenness        float64 `json:"eye_openness"`
	EyebrowRaise       float64 `json:"eyebrow_raise"`
	EyeGazeX           float64 `json:"eye_gaze_x"`
	EyeGazeY           float64 `json:"eye_gaze_y"`
	MouthOpen          float64 `json:"mouth_open"`
	HeadPitch          float64 `json:"head_pitch"`
	HeadYaw            float64 `json:"head_yaw"`
	HeadRoll           float64 `json:"head_roll"`
	ExpressionStrength float64 `json:"expression_strength"`

	normalized bool
}

func (p *EmotionControlParams) Normalize() {
	if p.normalized {
		return
	}
	p.normalized = true
	p.SmileIntensity /= uiSliderScale
	p.EyeOpenness /= uiSliderScale
	p.EyebrowRaise /= uiSliderScale
	p.EyeGazeX /= uiSliderScale
	p.EyeGazeY /= uiSliderScale
	p.MouthOpen /= uiSliderScale
	if p.ExpressionStrength == 0 {
		p.ExpressionStrength = 1
	}
}

func (p *EmotionControlParams) Validate() error {
	verr := &ValidationError{}
	signed := []struct {
		name string
		v    float64
	}{
		{"smile_intensity", p.SmileIntensity},
		{"eye_openness", p.EyeOpenness},
		{"eyebrow_raise", p.EyebrowRaise},
		{"eye_gaze_x", p.EyeGazeX},
		{"eye_gaze_y", p.EyeGazeY},
	}
	for _, f := range signed {
		if f.v < -1 || f.v > 1 {
			verr.Add(f.name, "must normalize to [-1, 1]")
		}
	}
	if p.MouthOpen < 0 || p.MouthOpen > 1 {
		verr.Add("mouth_open", "must normalize to [0, 1]")
	}
	pose := []struct {
		name string
		v    float64
	}{
		{"head_pitch", p.HeadPitch},
		{"head_yaw", p.HeadYaw},
		{"head_roll", p.HeadRoll},
	}
	for _, f := range pose {
		if f.v < -30 || f.v > 30 {
			verr.Add(f.name, "must be between -30 and 30 degrees")
		}
	}
	if p.ExpressionStrength < 0 || p.ExpressionStrength > 2 {
		verr.Add("expression_strength", "must be between 0 and 2")
	}
	return verr.OrNil()
}

// AudioReplacementParams swaps the audio track of a video with a previously
// uploaded recording.
type AudioReplacementParams struct {
	AudioAssetKey      string `json:"audio_asset_key"`
	PreserveBackground *bool  `json:"preserve_background"`
}

func (p *AudioReplacementParams) Normalize() {
	p.AudioAssetKey = strings.TrimSpace(p.AudioAssetKey)
	if p.PreserveBackground == nil {
		v := true
		p.PreserveBackground = &v
	}
}

func (p *AudioReplacementParams) Validate() error {
	verr := &ValidationError{}
	if p.AudioAssetKey == "" {
		verr.Add("audio_asset_key", "required")
	} else if KeyPurpose(p.AudioAssetKey) != PurposeForKind(KindAudioReplacement) {
		verr.Add("audio_asset_key", "was not issued for audio replacement uploads")
	}
	return verr.OrNil()
}
