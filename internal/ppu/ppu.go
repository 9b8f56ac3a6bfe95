// Package ppu implements the DMG pixel pipeline: a per-scanline approximation
// of the mode 0/1/2/3 STAT state machine, variable-length mode 3, and
// whole-scanline BG/window/sprite rendering into an RGBA8 framebuffer.
package ppu

import "sort"

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// dmgPalette is the fixed four-shade DMG color table, RGBA8 little-endian.
var dmgPalette = [4][4]byte{
	{0x0F, 0xBC, 0x9B, 0xFF},
	{0x0F, 0xAC, 0x8B, 0xFF},
	{0x30, 0x62, 0x30, 0xFF},
	{0x0F, 0x38, 0x0F, 0xFF},
}

// LineRegs snapshots the registers relevant to rendering as they stood at the
// Mode-2 -> Mode-3 transition for a given scanline; useful for tests and for
// debugging mid-frame raster effects.
type LineRegs struct {
	WinLine byte
	LCDC    byte
	SCX     byte
	SCY     byte
	WX      byte
	WY      byte
}

// Sprite is a single OAM entry, already normalized to screen-space Y
// (oamY - 16) by the caller that builds the per-line sprite list.
type Sprite struct {
	X        int
	Y        int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, scanline timing, and rendering.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot         int // dots within current line [0..455]
	mode3Dur    int // this line's mode-3 duration, computed at the 2->3 transition
	winLine     int // window's own line counter, increments once per line it renders on

	lineRegs [154]LineRegs

	framebuffer [160 * 144 * 4]byte

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req, mode3Dur: 172} }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// WriteOAMRaw writes directly into OAM, bypassing the mode-2/mode-3 CPU-facing
// gate in CPUWrite. The OAM DMA engine is a privileged bus master distinct
// from the CPU bus (spec invariant: OAM is written from the scheduler, not
// the CPU bus) and must not be dropped by the same guard that blocks CPU
// writes during active rendering.
func (p *PPU) WriteOAMRaw(addr uint16, value byte) {
	if addr < 0xFE00 || addr > 0xFE9F {
		return
	}
	p.oam[addr-0xFE00] = value
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.winLine = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.winLine = 0
			p.mode3Dur = 172
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (T-cycles). It returns
// true exactly once per frame, at the Mode-0 -> Mode-1 transition.
func (p *PPU) Tick(cycles int) bool {
	if cycles <= 0 {
		return false
	}
	frameDone := false
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 {
			continue
		}
		p.dot++

		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+p.mode3Dur:
				mode = 3
			default:
				mode = 0
			}
		}
		if mode == 3 && (p.stat&0x03) == 2 {
			// Mode-2 -> Mode-3 transition: compute this line's duration and
			// render the whole scanline in one shot (no sub-instruction
			// pixel-FIFO timing).
			p.mode3Dur = p.renderScanline()
			if p.dot >= 80+p.mode3Dur {
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				frameDone = true
				if p.req != nil {
					p.req(0) // VBlank IF
				}
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1) // STAT VBlank
					}
				}
			} else if p.ly > 153 {
				p.ly = 0
				p.winLine = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
	return frameDone
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// windowActiveThisLine reports whether the window layer renders on the
// current LY, per LCDC bit 5 / WY / WX gating.
func (p *PPU) windowActiveThisLine() bool {
	return (p.lcdc&0x20) != 0 && p.ly >= p.wy && p.wx <= 166
}

// scanOAMForLine returns up to 10 sprites whose vertical extent contains ly,
// in OAM order, with Y already normalized to screen space (oamY - 16).
func (p *PPU) scanOAMForLine(ly byte, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		oamY := int(p.oam[base+0]) - 16
		if int(ly) < oamY || int(ly) >= oamY+height {
			continue
		}
		out = append(out, Sprite{
			X:        int(p.oam[base+1]) - 8,
			Y:        oamY,
			Tile:     p.oam[base+2],
			Attr:     p.oam[base+3],
			OAMIndex: i,
		})
	}
	return out
}

// renderScanline renders the current LY into the framebuffer and returns the
// mode-3 duration this line requires: 172 + (SCX&7) + 6*sprites + 6*window,
// clamped to [172, 289].
func (p *PPU) renderScanline() int {
	ly := p.ly
	tall := (p.lcdc & 0x04) != 0
	sprites := p.scanOAMForLine(ly, tall)
	winActive := p.windowActiveThisLine()

	p.lineRegs[ly] = LineRegs{WinLine: byte(p.winLine), LCDC: p.lcdc, SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy}

	var bgci [160]byte
	if (p.lcdc & 0x01) != 0 {
		mapBase := uint16(0x9800)
		if (p.lcdc & 0x08) != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := (p.lcdc & 0x10) != 0
		bgci = RenderBGScanlineUsingFetcher(&vramView{p}, mapBase, tileData8000, p.scx, p.scy, ly)
	}

	if winActive {
		winMapBase := uint16(0x9800)
		if (p.lcdc & 0x40) != 0 {
			winMapBase = 0x9C00
		}
		tileData8000 := (p.lcdc & 0x10) != 0
		wxStart := int(p.wx) - 7
		winCI := RenderWindowScanlineUsingFetcher(&vramView{p}, winMapBase, tileData8000, wxStart, byte(p.winLine))
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < 160; x++ {
			bgci[x] = winCI[x]
		}
		p.winLine++
	}

	var spriteCI, spriteUseOBP1 [160]byte
	if (p.lcdc & 0x02) != 0 {
		spriteCI, spriteUseOBP1 = composeSpriteLine(&vramView{p}, sprites, ly, bgci, tall)
	}

	rowOff := int(ly) * 160 * 4
	for x := 0; x < 160; x++ {
		ci := (p.bgp >> (bgci[x] * 2)) & 3
		if (p.lcdc & 0x01) == 0 {
			ci = 0
		}
		if sci := spriteCI[x]; sci != 0 {
			obp := p.obp0
			if spriteUseOBP1[x] != 0 {
				obp = p.obp1
			}
			ci = (obp >> (sci * 2)) & 3
		}
		c := dmgPalette[ci]
		off := rowOff + x*4
		p.framebuffer[off+0] = c[0]
		p.framebuffer[off+1] = c[1]
		p.framebuffer[off+2] = c[2]
		p.framebuffer[off+3] = c[3]
	}

	spriteBonus := len(sprites)
	if spriteBonus > 10 {
		spriteBonus = 10
	}
	d := 172 + int(p.scx&7) + 6*spriteBonus
	if winActive {
		d += 6
	}
	if d < 172 {
		d = 172
	}
	if d > 289 {
		d = 289
	}
	return d
}

// vramView adapts the PPU's own VRAM array to the VRAMReader interface
// fetcher/scanline helpers expect, bypassing the CPU-facing mode-gated Read.
type vramView struct{ p *PPU }

func (v *vramView) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[addr-0x8000]
}

// Framebuffer returns the current 160x144 RGBA8 (little-endian) pixel buffer.
// The slice aliases PPU-owned storage; callers must copy before the next Tick.
func (p *PPU) Framebuffer() []byte { return p.framebuffer[:] }

// LineRegs returns the register snapshot captured at the Mode-2->Mode-3
// transition for scanline ly (valid only after that line has been rendered).
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[ly]
}

// ComposeSpriteLine resolves sprite priority/transparency/BG-behind for one
// scanline. sprites need not be pre-sorted; bgci is the background color
// index already computed for this line (used for the behind-BG priority
// check). Returns the sprite color index per x (0 = no sprite pixel there),
// not yet mapped through OBP0/OBP1 — see composeSpriteLine for that.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) [160]byte {
	ci, _ := composeSpriteLine(mem, sprites, ly, bgci, tall)
	return ci
}

// composeSpriteLine is ComposeSpriteLine's full implementation, additionally
// reporting which OBP register (0 or 1) each resolved pixel should use.
func composeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) (ci [160]byte, useOBP1 [160]byte) {
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].X != ordered[j].X {
			return ordered[i].X < ordered[j].X
		}
		return ordered[i].OAMIndex < ordered[j].OAMIndex
	})
	for i := len(ordered) - 1; i >= 0; i-- {
		s := ordered[i]
		row := int(ly) - s.Y
		if row < 0 {
			continue
		}
		tile := s.Tile
		yflip := (s.Attr & 0x40) != 0
		xflip := (s.Attr & 0x20) != 0
		height := 8
		if tall {
			height = 16
			tile &^= 0x01
		}
		if row >= height {
			continue
		}
		if yflip {
			row = height - 1 - row
		}
		addr := uint16(0x8000) + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(addr)
		hi := mem.Read(addr + 1)
		priority := (s.Attr & 0x80) != 0
		usesOBP1 := (s.Attr & 0x10) != 0
		for col := 0; col < 8; col++ {
			x := s.X + col
			if x < 0 || x >= 160 {
				continue
			}
			bit := col
			if !xflip {
				bit = 7 - col
			}
			px := ((hi>>byte(bit))&1)<<1 | ((lo >> byte(bit)) & 1)
			if px == 0 {
				continue
			}
			if priority && bgci[x] != 0 {
				continue
			}
			ci[x] = px
			if usesOBP1 {
				useOBP1[x] = 1
			} else {
				useOBP1[x] = 0
			}
		}
	}
	return ci, useOBP1
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
