package ppu

import "testing"

// dotsInMode3 advances the PPU dot-by-dot and returns how many dots line ly
// spent in mode 3, by watching the STAT mode bits directly.
func dotsInMode3(p *PPU, targetLY byte) int {
	count := 0
	for p.CPURead(0xFF44) == targetLY {
		before := p.CPURead(0xFF41) & 0x03
		p.Tick(1)
		if before == 3 {
			count++
		}
	}
	return count
}

func TestMode3DurationBaseline(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x01) // LCD+BG on, no sprites, no window
	if d := dotsInMode3(p, 0); d != 172 {
		t.Fatalf("baseline mode3 duration got %d want 172", d)
	}
}

func TestMode3DurationWithSCXFraction(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF43, 5) // SCX = 5 -> +5 penalty (SCX&7)
	p.CPUWrite(0xFF40, 0x80|0x01)
	if d := dotsInMode3(p, 0); d != 177 {
		t.Fatalf("SCX-penalized mode3 duration got %d want 177", d)
	}
}

func TestMode3DurationWithSprites(t *testing.T) {
	p := New(nil)
	// Two sprites visible on line 0 (Y=16 => screen row 0), well within LCD off.
	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, 8, 0, 0
	p.oam[4], p.oam[5], p.oam[6], p.oam[7] = 16, 16, 0, 0
	p.CPUWrite(0xFF40, 0x80|0x01|0x02) // LCD+BG+OBJ on
	if d := dotsInMode3(p, 0); d != 172+12 {
		t.Fatalf("sprite-penalized mode3 duration got %d want %d", d, 172+12)
	}
}

func TestMode3DurationWithWindow(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF4A, 0) // WY = 0, active from line 0
	p.CPUWrite(0xFF4B, 7) // WX = 7
	p.CPUWrite(0xFF40, 0x80|0x01|0x20)
	if d := dotsInMode3(p, 0); d != 172+6 {
		t.Fatalf("window-penalized mode3 duration got %d want %d", d, 172+6)
	}
}

func TestMode3DurationWorstCase(t *testing.T) {
	p := New(nil)
	// 10 sprites on the line (cap), full SCX fraction, and window active:
	// 172 + 7 + 6*10 + 6 = 245, below the 289 clamp ceiling.
	for i := 0; i < 10; i++ {
		base := i * 4
		p.oam[base+0] = 16
		p.oam[base+1] = byte(8 + i*9)
		p.oam[base+2] = 0
		p.oam[base+3] = 0
	}
	p.CPUWrite(0xFF43, 7) // SCX&7 = 7
	p.CPUWrite(0xFF4A, 0)
	p.CPUWrite(0xFF4B, 7)
	p.CPUWrite(0xFF40, 0x80|0x01|0x02|0x20)
	if d := dotsInMode3(p, 0); d != 245 {
		t.Fatalf("worst-case mode3 duration got %d want 245", d)
	}
}
