package rvpte

import (
	"testing"

	"github.com/rv64boot/kernel/kernel/mem"
)

func TestLevelSize(t *testing.T) {
	specs := []struct {
		level Level
		exp   mem.Size
	}{
		{LevelKB, 4 * mem.Kb},
		{LevelMB, 2 * mem.Mb},
		{LevelGB, 1 * mem.Gb},
		{LevelTB, 512 * mem.Gb},
	}

	for _, spec := range specs {
		if got := spec.level.Size(); got != spec.exp {
			t.Errorf("level %d: expected size %d; got %d", spec.level, spec.exp, got)
		}
	}
}

func TestLevelNextLower(t *testing.T) {
	if got := LevelTB.NextLower(); got != LevelGB {
		t.Fatalf("expected LevelTB.NextLower() == LevelGB; got %d", got)
	}

	if got := LevelKB.NextLower(); got != LevelKB {
		t.Fatalf("expected LevelKB.NextLower() to saturate at LevelKB; got %d", got)
	}
}

func TestLevelIndex(t *testing.T) {
	// vaddr with index 5 at level 0, index 3 at level 1.
	vaddr := uintptr(3<<21 | 5<<12)

	if got := LevelKB.Index(vaddr); got != 5 {
		t.Fatalf("expected level 0 index 5; got %d", got)
	}
	if got := LevelMB.Index(vaddr); got != 3 {
		t.Fatalf("expected level 1 index 3; got %d", got)
	}
}

func TestModeTopLevel(t *testing.T) {
	if got := Sv39.TopLevel(); got != LevelGB {
		t.Fatalf("expected Sv39 top level GB; got %d", got)
	}
	if got := Sv48.TopLevel(); got != LevelTB {
		t.Fatalf("expected Sv48 top level TB; got %d", got)
	}
}

func TestModeFitFor(t *testing.T) {
	specs := []struct {
		mode Mode
		size mem.Size
		exp  Level
	}{
		{Sv39, 4 * mem.Kb, LevelKB},
		{Sv39, 2 * mem.Mb, LevelMB},
		{Sv39, 1 * mem.Gb, LevelGB},
		{Sv39, 512 * mem.Gb, LevelGB}, // Sv39 never returns above its top level
		{Sv48, 512 * mem.Gb, LevelTB},
		{Sv39, 3 * mem.Mb, LevelGB}, // 3MiB needs the next level up to be covered
		{Sv39, 5 * mem.Kb, LevelMB},
		{Sv39, 1 * mem.Kb, LevelKB},
	}

	for i, spec := range specs {
		if got := spec.mode.FitFor(spec.size); got != spec.exp {
			t.Errorf("[spec %d] expected level %d; got %d", i, spec.exp, got)
		}
	}
}
