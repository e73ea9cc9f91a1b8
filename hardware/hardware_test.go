package hardware

import (
	"context"
	"testing"

	"github.com/nasa-jpl/daisy/transform"
	"github.com/nasa-jpl/daisy/util"
)

func TestSimulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.Camera.Width, cfg.Camera.Height = 64, 48
	hw := Connect(cfg, transform.Point{X: 32, Y: 24}, nil)
	defer hw.Close()
	if !hw.Simulated {
		t.Fatal("expected simulated context")
	}
	if hw.Axes == nil {
		t.Fatal("simulated context has no axis controller")
	}
	hw.Camera.SetExposureTime(0)
	img, err := hw.Camera.GetFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 64 || img.Gray16At(32, 24).Y != 0xFFFF {
		t.Error("synthetic camera not configured from config and origin")
	}
	if err := hw.Stage.MoveAbsolute(context.Background(), transform.Point{X: 5, Y: 6}); err != nil {
		t.Fatal(err)
	}
	if p, _ := hw.Stage.GetPosition(); p != (transform.Point{X: 5, Y: 6}) {
		t.Errorf("simulated stage at %v", p)
	}
}

func TestConnectDegradesToSimulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stage.Addr = "http://127.0.0.1:1/stage"
	cfg.Camera.Width, cfg.Camera.Height = 16, 16
	hw := Connect(cfg, transform.Point{X: 8, Y: 8}, nil)
	defer hw.Close()
	if !hw.Simulated {
		t.Fatal("unreachable hardware should give a simulated context")
	}
	if hw.Reason == "" {
		t.Error("simulated context has no reason")
	}
}

func TestSimulatedLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stage.Limits = map[string]util.Limiter{"X": {Min: 0, Max: 10}}
	cfg.Camera.Width, cfg.Camera.Height = 8, 8
	hw := Simulate(cfg, transform.Point{}, "test")
	if err := hw.Stage.MoveAbsolute(context.Background(), transform.Point{X: 20}); err == nil {
		t.Error("limit not applied to simulated stage")
	}
}
