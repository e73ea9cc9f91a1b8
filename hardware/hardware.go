// Package hardware assembles the stage, shutter, and camera into one context.
//
// Connect builds the real devices.  If any of them cannot be reached the
// failure is logged and a simulated context is returned instead, so the rest
// of the program runs the same way with or without an instrument attached.
package hardware

import (
	"fmt"
	"io"

	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/logger"
	"github.com/nasa-jpl/daisy/motion"
	"github.com/nasa-jpl/daisy/shutter"
	"github.com/nasa-jpl/daisy/transform"
	"github.com/nasa-jpl/daisy/util"
)

// StageConfig locates the motion controller
type StageConfig struct {
	// Addr is the base URL of the controller, e.g. http://192.168.100.10:8000/xy
	Addr string `yaml:"Addr" koanf:"addr"`

	// X, Y, and Z are the controller axis names
	X string `yaml:"X" koanf:"x"`
	Y string `yaml:"Y" koanf:"y"`
	Z string `yaml:"Z" koanf:"z"`

	// Limits are software limits per axis name, in steps
	Limits map[string]util.Limiter `yaml:"Limits" koanf:"limits"`
}

// ShutterConfig locates the shutter Arduino
type ShutterConfig struct {
	// Port is the serial device, e.g. /dev/ttyACM0 or COM8
	Port string `yaml:"Port" koanf:"port"`

	// Pin is the Arduino pin the shutter is wired to
	Pin int `yaml:"Pin" koanf:"pin"`
}

// CameraConfig locates the camera server
type CameraConfig struct {
	// Addr is the base URL of the camera server
	Addr string `yaml:"Addr" koanf:"addr"`

	// Width and Height size the synthetic frame in simulate mode
	Width  int `yaml:"Width" koanf:"width"`
	Height int `yaml:"Height" koanf:"height"`
}

// Config holds the hardware setup
type Config struct {
	// Simulate skips the real devices
	Simulate bool `yaml:"Simulate" koanf:"simulate"`

	Stage   StageConfig   `yaml:"Stage" koanf:"stage"`
	Shutter ShutterConfig `yaml:"Shutter" koanf:"shutter"`
	Camera  CameraConfig  `yaml:"Camera" koanf:"camera"`
}

// DefaultConfig returns the hardware configuration of the original rig
func DefaultConfig() Config {
	return Config{
		Stage:   StageConfig{Addr: "http://localhost:8000/stage", X: "X", Y: "Y", Z: "Z"},
		Shutter: ShutterConfig{Port: "/dev/ttyACM0", Pin: int(shutter.DefaultPin)},
		Camera:  CameraConfig{Addr: "http://localhost:8001/camera", Width: camera.DefaultWidth, Height: camera.DefaultHeight},
	}
}

// Context is the set of devices the rest of the program drives
type Context struct {
	Stage   motion.Stage
	Focuser motion.Focuser
	Shutter shutter.Shutter
	Camera  camera.Camera

	// Axes is the axis controller under Stage, soft limits applied
	Axes motion.Mover

	// Simulated is true when no real hardware is in use
	Simulated bool

	// Reason says why the context is simulated
	Reason string

	closers []io.Closer
}

// Close releases the devices, closing the shutter first
func (c *Context) Close() error {
	var first error
	if c.Shutter != nil {
		if err := c.Shutter.SetShutter(false); err != nil {
			first = err
		}
	}
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func axisStage(m motion.Mover, cfg StageConfig) *motion.AxisStage {
	var mov motion.Mover = m
	if len(cfg.Limits) > 0 {
		mov = &motion.Limited{Mover: m, Limits: cfg.Limits}
	}
	s := motion.NewAxisStage(mov)
	if cfg.X != "" {
		s.X = cfg.X
	}
	if cfg.Y != "" {
		s.Y = cfg.Y
	}
	if cfg.Z != "" {
		s.Z = cfg.Z
	}
	return s
}

// Simulate returns a context with an in-memory stage, a no-op shutter, and a
// synthetic camera whose spot sits at origin
func Simulate(cfg Config, origin transform.Point, reason string) *Context {
	w, h := cfg.Camera.Width, cfg.Camera.Height
	if w <= 0 || h <= 0 {
		w, h = camera.DefaultWidth, camera.DefaultHeight
	}
	st := axisStage(motion.NewMock(), cfg.Stage)
	return &Context{
		Stage:     st,
		Focuser:   st,
		Axes:      st.Mov,
		Shutter:   &shutter.Null{},
		Camera:    camera.NewSynthetic(w, h, int(origin.X), int(origin.Y)),
		Simulated: true,
		Reason:    reason,
	}
}

// Connect builds the real devices described by cfg.  On any failure it logs
// the cause and returns a simulated context.
func Connect(cfg Config, origin transform.Point, l logger.ILogger) *Context {
	log := logger.OrNull(l)
	if cfg.Simulate {
		log.Infof("simulate mode requested")
		return Simulate(cfg, origin, "simulate mode requested")
	}
	ctx, err := connect(cfg, log)
	if err != nil {
		log.Errorf("no hardware detected, running in simulate mode: %v", err)
		return Simulate(cfg, origin, err.Error())
	}
	return ctx
}

func connect(cfg Config, log logger.ILogger) (*Context, error) {
	st := axisStage(motion.NewHTTPMover(cfg.Stage.Addr), cfg.Stage)
	if _, err := st.GetPosition(); err != nil {
		return nil, fmt.Errorf("stage at %s: %w", cfg.Stage.Addr, err)
	}

	cam := camera.NewHTTPCamera(cfg.Camera.Addr)
	if _, err := cam.GetExposureTime(); err != nil {
		return nil, fmt.Errorf("camera at %s: %w", cfg.Camera.Addr, err)
	}

	ard := shutter.NewArduino(cfg.Shutter.Port, byte(cfg.Shutter.Pin), log)
	if err := ard.Connect(); err != nil {
		return nil, fmt.Errorf("shutter on %s: %w", cfg.Shutter.Port, err)
	}
	log.Infof("hardware connected: stage %s, camera %s, shutter %s", cfg.Stage.Addr, cfg.Camera.Addr, cfg.Shutter.Port)
	return &Context{
		Stage:   st,
		Focuser: st,
		Axes:    st.Mov,
		Shutter: ard,
		Camera:  cam,
		closers: []io.Closer{ard},
	}, nil
}
