package debug

import (
	"bytes"
	"strings"
	"testing"
)

func TestInit_Levels(t *testing.T) {
	defer Init(LevelOff)

	Init(LevelLive)
	if Level() != LevelLive {
		t.Errorf("Level() = %d, want %d", Level(), LevelLive)
	}
	if !IsEnabled(LevelInfo) || !IsEnabled(LevelLive) {
		t.Error("info and live should be enabled at level 2")
	}
	if IsEnabled(LevelTrace) {
		t.Error("trace should be disabled at level 2")
	}
}

func TestSetOutput_FiltersByLevel(t *testing.T) {
	defer Init(LevelOff)

	Init(LevelInfo)
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("task %s started", "front")
	Sample("front", 1, 12.5)
	GPIO("ReadPin", 24, "HIGH")

	out := buf.String()
	if !strings.Contains(out, "[INFO] task front started") {
		t.Errorf("output %q missing info line", out)
	}
	if strings.Contains(out, "sample #1") || strings.Contains(out, "[GPIO]") {
		t.Errorf("output %q has lines above level 1", out)
	}
}

func TestOff_WritesNothing(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo)
	SetOutput(&buf)
	Init(LevelOff)

	Info("hidden")
	Warn("hidden")
	if buf.Len() != 0 {
		t.Errorf("output at level 0 = %q, want empty", buf.String())
	}
}
