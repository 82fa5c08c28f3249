package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Setting names accepted by UpdateSetting. They match the multipart field
// names sent to the Conversion Service.
const (
	SettingSpeed       = "speed"
	SettingCropStart   = "crop_start"
	SettingCropEnd     = "crop_end"
	SettingMaxDuration = "max_duration"
	SettingQuality     = "quality"
)

const (
	MinSpeed     = 0.25
	MaxSpeed     = 4.0
	SpeedStep    = 0.25
	DefaultSpeed = 1.0

	MinMaxDuration     = 1
	MaxMaxDuration     = 30
	DefaultMaxDuration = 17

	MinQuality     = 20
	MaxQuality     = 100
	DefaultQuality = 60
)

// Settings are the user-tunable conversion parameters. CropEnd is nil when
// the crop window runs to the end of the source.
type Settings struct {
	Speed       float64  `json:"speed"`
	CropStart   float64  `json:"crop_start"`
	CropEnd     *float64 `json:"crop_end"`
	MaxDuration int      `json:"max_duration"`
	Quality     int      `json:"quality"`
}

func DefaultSettings() Settings {
	return Settings{
		Speed:       DefaultSpeed,
		CropStart:   0,
		CropEnd:     nil,
		MaxDuration: DefaultMaxDuration,
		Quality:     DefaultQuality,
	}
}

// Resolution is the output resolution label implied by Quality.
func (s Settings) Resolution() string {
	return ResolutionLabel(s.Quality)
}

func (s Settings) clone() Settings {
	if s.CropEnd != nil {
		end := *s.CropEnd
		s.CropEnd = &end
	}
	return s
}

// ResolutionLabel maps a quality level to the resolution the service targets.
// Values outside [20, 100] yield "Auto".
func ResolutionLabel(quality int) string {
	switch {
	case quality >= 20 && quality <= 30:
		return "240p"
	case quality >= 31 && quality <= 50:
		return "360p"
	case quality >= 51 && quality <= 70:
		return "480p"
	case quality >= 71 && quality <= 90:
		return "720p"
	case quality >= 91 && quality <= 100:
		return "1080p"
	default:
		return "Auto"
	}
}

// ClampSpeed snaps v to the nearest 0.25 step inside [0.25, 4].
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultSpeed
	}
	v = math.Round(v/SpeedStep) * SpeedStep
	return math.Min(MaxSpeed, math.Max(MinSpeed, v))
}

func ClampMaxDuration(v int) int {
	return clampInt(v, MinMaxDuration, MaxMaxDuration)
}

func ClampQuality(v int) int {
	return clampInt(v, MinQuality, MaxQuality)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// defaultMaxDurationFor is the duration cap suggested for a source of the
// given length.
func defaultMaxDurationFor(duration int) int {
	return ClampMaxDuration(min(duration, DefaultMaxDuration))
}

// apply parses raw and stores it into the named field. Slider-backed fields
// are clamped. Crop fields are stored as entered and checked at submission.
func (s *Settings) apply(field, raw string) error {
	raw = strings.TrimSpace(raw)

	switch field {
	case SettingSpeed:
		v, err := parseFinite(raw)
		if err != nil {
			return invalidValue(field, raw, err)
		}
		s.Speed = ClampSpeed(v)

	case SettingQuality:
		v, err := parseInt(raw)
		if err != nil {
			return invalidValue(field, raw, err)
		}
		s.Quality = ClampQuality(v)

	case SettingMaxDuration:
		v, err := parseInt(raw)
		if err != nil {
			return invalidValue(field, raw, err)
		}
		s.MaxDuration = ClampMaxDuration(v)

	case SettingCropStart:
		if raw == "" {
			s.CropStart = 0
			return nil
		}
		v, err := parseFinite(raw)
		if err != nil {
			return invalidValue(field, raw, err)
		}
		s.CropStart = v

	case SettingCropEnd:
		if raw == "" {
			s.CropEnd = nil
			return nil
		}
		v, err := parseFinite(raw)
		if err != nil {
			return invalidValue(field, raw, err)
		}
		s.CropEnd = &v

	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, field)
	}
	return nil
}

// validateCrop checks the crop window against the source duration. A zero
// duration means unknown and skips the upper bound checks.
func (s Settings) validateCrop(duration int) string {
	d := float64(duration)

	if s.CropStart < 0 {
		return "Crop start must be 0 or greater"
	}
	if duration > 0 && s.CropStart > d {
		return "Crop start is beyond the end of the video"
	}
	if s.CropEnd == nil {
		return ""
	}
	if *s.CropEnd < s.CropStart {
		return "Crop end must not be before crop start"
	}
	if duration > 0 && *s.CropEnd > d {
		return "Crop end is beyond the end of the video"
	}
	return ""
}

func parseFinite(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

// parseInt accepts "17" as well as slider output such as "17.0".
func parseInt(raw string) (int, error) {
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	f, err := parseFinite(raw)
	if err != nil {
		return 0, err
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	if f < math.MinInt32 {
		return math.MinInt32, nil
	}
	return int(math.Round(f)), nil
}

func invalidValue(field, raw string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, field, raw, err)
}
