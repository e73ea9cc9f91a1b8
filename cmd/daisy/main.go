package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/daisy/daisy"
	"github.com/nasa-jpl/daisy/generichttp"
	"github.com/nasa-jpl/daisy/hardware"
	"github.com/nasa-jpl/daisy/logger"
	"github.com/nasa-jpl/daisy/transform"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "daisy.yml"

	// EnvPrefix marks environment variables that override the config file
	EnvPrefix = "DAISY_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(daisy.DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	// DAISY_HARDWARE_SIMULATE=true -> hardware.simulate
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil)
	if err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadconfig() daisy.Config {
	c := daisy.Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `daisy drives a microscope stage, a UV shutter, and a camera to expose
a pattern of spots onto a sample.  The stage is calibrated against the camera
image, two reference points anchor the pattern on the sample, and each
position of the pattern is then visited and exposed in turn.

Control is over HTTP, so any client that can speak HTTP and JSON can run it.

Usage:
	daisy <command>

Commands:
	run
	expose <pattern file> <x1> <y1> <x2> <y2>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `daisy is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Any key may be overridden from the environment with the DAISY_ prefix, using _ to
descend into sections.  For example, DAISY_HARDWARE_SIMULATE=true runs without
any instruments and DAISY_ADDR=:9000 changes the listen address.

If the stage, camera, or shutter cannot be reached at startup, daisy logs why
and runs in simulate mode: an in-memory stage, a shutter that does nothing,
and a synthetic camera with a bright spot at the calibrated origin.

The expose command runs one pass without the HTTP server.  The pattern file is
a header row followed by x,y rows.  x1 y1 x2 y2 are the two reference points
in stage steps, i.e. the stage positions that put the spot on the first two
pattern features.  Press ctrl-C to stop after the current position.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("daisy version %v\n", Version)
}

func newSession(cfg daisy.Config) (*daisy.Session, logger.ILogger) {
	l := logger.New("daisy ", logger.ParseLevel(cfg.LogLevel))
	hw := hardware.Connect(cfg.Hardware, cfg.Calibration.Origin, l)
	s, err := daisy.New(cfg, hw, l)
	if err != nil {
		hw.Close()
		log.Fatal(err)
	}
	return s, l
}

func run() {
	cfg := loadconfig()
	s, l := newSession(cfg)
	w := daisy.NewHTTPWrapper(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount(hndlrS, w.Router())
	srv := &http.Server{Addr: cfg.Addr, Handler: root}

	go func() {
		if err := s.Run(ctx); err != nil && err != context.Canceled {
			l.Errorf("live view stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		l.Infof("shutting down")
		shut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shut)
	}()

	l.Infof("now listening for requests at %s%s", cfg.Addr, hndlrS)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Errorf("%v", err)
	}
	stop()
	w.Close()
	if err := s.Close(); err != nil {
		l.Errorf("error closing hardware: %v", err)
	}
}

// spinnerListener narrates a headless pass on a terminal spinner
type spinnerListener struct {
	sp   *yacspin.Spinner
	done chan daisy.Event
}

func (s spinnerListener) Event(e daisy.Event) {
	switch e.Kind {
	case daisy.EventProgress:
		p := e.Progress
		s.sp.Message(fmt.Sprintf("%d/%d x: %.0f y: %.0f", p.Index+1, p.Total, p.To.X, p.To.Y))
	case daisy.EventDone:
		select {
		case s.done <- e:
		default:
		}
	}
}

func parseRefs(args []string) (transform.Point, transform.Point, error) {
	var f [4]float64
	if len(args) != len(f) {
		return transform.Point{}, transform.Point{}, fmt.Errorf("expected 4 reference coordinates, got %d", len(args))
	}
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return transform.Point{}, transform.Point{}, fmt.Errorf("reference coordinate %q: %w", a, err)
		}
		f[i] = v
	}
	return transform.Point{X: f[0], Y: f[1]}, transform.Point{X: f[2], Y: f[3]}, nil
}

// prepare loads the pattern file fn into s, anchors it on p1 and p2 and
// returns the number of positions built
func prepare(s *daisy.Session, fn string, p1, p2 transform.Point) (int, error) {
	if _, err := s.LoadPatternFile(fn); err != nil {
		return 0, err
	}
	s.SetReference(1, p1)
	s.SetReference(2, p2)
	n, err := s.BuildPattern()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New(s.Status())
	}
	return n, nil
}

func exposeHeadless(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: daisy expose <pattern file> <x1> <y1> <x2> <y2>")
	}
	p1, p2, err := parseRefs(args[1:])
	if err != nil {
		log.Fatal(err)
	}
	cfg := loadconfig()
	cfg.Acquire = false
	s, _ := newSession(cfg)
	defer s.Close()

	n, err := prepare(s, args[0], p1, p2)
	if err != nil {
		// log.Fatal skips deferred calls
		s.Close()
		log.Fatal(err)
	}

	sp, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " exposing ",
		SuffixAutoColon:   true,
		Message:           fmt.Sprintf("%d positions", n),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		s.Close()
		log.Fatal(err)
	}
	done := make(chan daisy.Event, 1)
	s.Listen(spinnerListener{sp: sp, done: done})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp.Start()
	if _, err = s.StartExposure(); err != nil {
		sp.StopFailMessage(err.Error())
		sp.StopFail()
		return
	}
	select {
	case e := <-done:
		sum := e.Summary
		switch {
		case sum.Err != nil:
			sp.StopFailMessage(fmt.Sprintf("failed after %d/%d: %v", sum.Exposed, sum.Total, sum.Err))
			sp.StopFail()
		case sum.Cancelled:
			sp.StopFailMessage(fmt.Sprintf("stopped after %d/%d", sum.Exposed, sum.Total))
			sp.StopFail()
		default:
			sp.StopMessage(fmt.Sprintf("exposed %d positions in %v", sum.Exposed, sum.Finished.Sub(sum.Started).Round(time.Second)))
			sp.Stop()
		}
	case <-ctx.Done():
		sp.Message("stopping after the current position")
		s.StopExposure()
		s.Wait()
		sp.StopFailMessage("interrupted")
		sp.StopFail()
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "expose":
		exposeHeadless(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
