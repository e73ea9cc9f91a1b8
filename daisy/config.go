package daisy

import (
	"time"

	"github.com/nasa-jpl/daisy/acquire"
	"github.com/nasa-jpl/daisy/expose"
	"github.com/nasa-jpl/daisy/hardware"
	"github.com/nasa-jpl/daisy/spot"
	"github.com/nasa-jpl/daisy/transform"
	"github.com/nasa-jpl/daisy/util"
)

const (
	// DefaultPatternScale shrinks a pattern to match the projection optics
	DefaultPatternScale = 0.9890

	// DefaultStepSize is the jog distance in microns
	DefaultStepSize = 1000

	// DefaultFocusStep is the focus jog distance in focus axis units
	DefaultFocusStep = 1

	// DefaultMaxFPS caps the live view frame rate
	DefaultMaxFPS = 10
)

// SpotConfig tunes the spot center estimator
type SpotConfig struct {
	// Threshold is the fraction of the frame maximum a peak must exceed
	Threshold float64 `yaml:"Threshold" koanf:"threshold"`

	// NumPeaks is how many of the brightest peaks are considered
	NumPeaks int `yaml:"NumPeaks" koanf:"numpeaks"`

	// CentroidRadius refines the chosen peak when > 0
	CentroidRadius int `yaml:"CentroidRadius" koanf:"centroidradius"`

	// Policy is rightmost, brightest, or nearest
	Policy string `yaml:"Policy" koanf:"policy"`
}

// RecorderConfig sets where saved frames go
type RecorderConfig struct {
	// Root is the root folder to write to; saving is refused when empty
	Root string `yaml:"Root" koanf:"root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix" koanf:"prefix"`

	// AutoWrite saves every acquired frame
	AutoWrite bool `yaml:"AutoWrite" koanf:"autowrite"`
}

// Config is the complete daisy configuration
type Config struct {
	// Addr is the listen address, e.g. :8000
	Addr string `yaml:"Addr" koanf:"addr"`

	// Root is the URL prefix the routes are mounted under
	Root string `yaml:"Root" koanf:"root"`

	// LogLevel is debug, info, or error
	LogLevel string `yaml:"LogLevel" koanf:"loglevel"`

	Calibration transform.Calibration `yaml:"Calibration" koanf:"calibration"`

	// PatternScale multiplies pattern coordinates before projection
	PatternScale float64 `yaml:"PatternScale" koanf:"patternscale"`

	// StepSize is the XY jog distance in microns
	StepSize float64 `yaml:"StepSize" koanf:"stepsize"`

	// FocusStep is the focus jog distance
	FocusStep float64 `yaml:"FocusStep" koanf:"focusstep"`

	// ExposureMs is the shutter open time at each position
	ExposureMs float64 `yaml:"ExposureMs" koanf:"exposurems"`

	// SettleMs is the pause after closing the shutter
	SettleMs float64 `yaml:"SettleMs" koanf:"settlems"`

	// CameraExposureMs is the live view exposure
	CameraExposureMs float64 `yaml:"CameraExposureMs" koanf:"cameraexposurems"`

	// MaxFPS caps the live view rate; <= 0 is uncapped
	MaxFPS float64 `yaml:"MaxFPS" koanf:"maxfps"`

	// Acquire starts the live view at boot
	Acquire bool `yaml:"Acquire" koanf:"acquire"`

	Spot     SpotConfig      `yaml:"Spot" koanf:"spot"`
	Recorder RecorderConfig  `yaml:"Recorder" koanf:"recorder"`
	Hardware hardware.Config `yaml:"Hardware" koanf:"hardware"`
}

// DefaultConfig returns the configuration of the original rig
func DefaultConfig() Config {
	return Config{
		Addr:             ":8000",
		Root:             "/daisy",
		LogLevel:         "info",
		Calibration:      transform.DefaultCalibration(),
		PatternScale:     DefaultPatternScale,
		StepSize:         DefaultStepSize,
		FocusStep:        DefaultFocusStep,
		ExposureMs:       float64(expose.DefaultExposure / time.Millisecond),
		SettleMs:         float64(expose.DefaultSettle / time.Millisecond),
		CameraExposureMs: float64(acquire.DefaultExposure / time.Millisecond),
		MaxFPS:           DefaultMaxFPS,
		Acquire:          true,
		Spot: SpotConfig{
			Threshold: spot.DefaultThreshold,
			NumPeaks:  spot.DefaultNumPeaks,
			Policy:    "rightmost",
		},
		Recorder: RecorderConfig{Prefix: "daisy"},
		Hardware: hardware.DefaultConfig(),
	}
}

// exposeConfig converts the millisecond fields to an expose.Config
func (c Config) exposeConfig() expose.Config {
	return expose.Config{
		Exposure: util.MillisToDuration(c.ExposureMs),
		Settle:   util.MillisToDuration(c.SettleMs),
	}
}

// estimator builds the spot estimator described by c.Spot.  An unknown
// policy name falls back to rightmost and ok is false.
func (c Config) estimator() (est *spot.Estimator, ok bool) {
	est = spot.NewEstimator()
	if c.Spot.Threshold > 0 {
		est.Threshold = c.Spot.Threshold
	}
	if c.Spot.NumPeaks > 0 {
		est.NumPeaks = c.Spot.NumPeaks
	}
	est.CentroidRadius = c.Spot.CentroidRadius
	ok = true
	if c.Spot.Policy == "nearest" {
		est.Policy = spot.Nearest(c.Calibration.Origin)
	} else if c.Spot.Policy != "" {
		est.Policy, ok = spot.PolicyByName(c.Spot.Policy)
	}
	return est, ok
}
