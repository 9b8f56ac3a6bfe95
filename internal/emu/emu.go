// Package emu is the top-level orchestrator: it owns the CPU and, through the
// Bus, the cartridge/PPU/APU/timer, and drives a single frame at a time off
// the CPU's reported cycle count. CPU.Step already ticks the bus (DMA, timer,
// APU, PPU, in that order) as a side effect, so RunFrame's job is just to
// accumulate cycles and stop at the PPU's own frame-complete signal.
package emu

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nollhaven/gbcore/internal/bus"
	"github.com/nollhaven/gbcore/internal/cart"
	"github.com/nollhaven/gbcore/internal/cpu"
	"github.com/nollhaven/gbcore/internal/diag"
)

// cyclesPerFrame is the nominal T-cycle budget of one 154-line DMG frame
// (144 visible + 10 VBlank lines, 154 * 456 T-cycles), ~59.7275 Hz at the 4.194304 MHz base clock.
const cyclesPerFrame = 70224

// Buttons is the joypad state the host reports each frame, one bool per key.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// Button IDs for the FFI-facing SetButton(id, pressed), ordered per spec.md §6.
const (
	ButtonA = iota
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonRight
	ButtonLeft
	ButtonUp
	ButtonDown
)

// Machine couples a CPU and its Bus (and, through the bus, the cartridge,
// PPU, APU, and timer) and drives them one frame at a time.
type Machine struct {
	cfg Config

	bus  *bus.Bus
	cpu  *cpu.CPU
	cart cart.Cartridge
	hdr  *cart.Header

	romPath string
	bootROM []byte
	serialW io.Writer

	pressedMask byte // last SetButtons/SetButton joypad mask, for STOP-wake edge detection

	log *diag.Logger
}

// New constructs a Machine with no cartridge loaded; LoadROM/LoadCartridge
// wires one in and resets to DMG post-boot state.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, log: diag.New(cfg.Trace)}
	m.resetWithCart(cart.NewROMOnly(make([]byte, 0x8000)))
	return m
}

// LoadCartridge parses rom's header, builds the matching mapper, wires a
// fresh Bus/CPU around it, and resets to DMG post-boot state. boot, if at
// least 0x100 bytes, is mapped at 0x0000 until the guest writes 0xFF50 (not
// used unless ResetWithBoot is subsequently called).
func (m *Machine) LoadCartridge(rom, boot []byte) error {
	if len(rom) < 0x150 {
		return errors.New("emu: ROM too small (need at least 0x150 bytes)")
	}
	hdr, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	if len(boot) >= 0x100 {
		m.bootROM = append([]byte(nil), boot...)
	}
	m.hdr = hdr
	m.resetWithCart(cart.NewCartridge(rom))
	return nil
}

// LoadROM is the in-memory equivalent of the FFI loadROMFromBuffer(size)
// operation in spec.md §6: the host has already staged rom's bytes and asks
// the core to parse and reset onto them.
func (m *Machine) LoadROM(rom []byte) error { return m.LoadCartridge(rom, m.bootROM) }

// LoadROMFromBuffer is the literal spec.md §6 name for LoadROM.
func (m *Machine) LoadROMFromBuffer(rom []byte) error { return m.LoadROM(rom) }

// LoadROMFromFile reads path and loads it as the current cartridge, setting
// ROMPath() for save-RAM path derivation.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(rom, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// SetBootROM stages a DMG boot ROM image for a later ResetWithBoot call.
func (m *Machine) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		m.bootROM = append([]byte(nil), data...)
	}
}

// resetWithCart rebuilds the Bus and CPU around c, preserving the in-memory
// cartridge (and, for battery-backed mappers, its external RAM) rather than
// reparsing the ROM — a console reset does not clear cartridge RAM.
func (m *Machine) resetWithCart(c cart.Cartridge) {
	m.cart = c
	m.bus = bus.NewWithCartridge(c)
	if m.serialW != nil {
		m.bus.SetSerialWriter(m.serialW)
	}
	m.cpu = cpu.New(m.bus)
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.applyPostBootIO()
	m.pressedMask = 0
}

// applyPostBootIO pushes the DMG post-bootrom register defaults listed in
// spec.md §3 through the normal CPU-facing Bus.Write path (the same path a
// real boot ROM would use), rather than poking subsystem fields directly.
func (m *Machine) applyPostBootIO() {
	m.bus.Write(0xFF05, 0x00) // TIMA
	m.bus.Write(0xFF06, 0x00) // TMA
	m.bus.Write(0xFF07, 0x00) // TAC
	m.bus.Write(0xFF40, 0x91) // LCDC: on, BG+sprites enabled
	m.bus.Write(0xFF42, 0x00) // SCY
	m.bus.Write(0xFF43, 0x00) // SCX
	m.bus.Write(0xFF45, 0x00) // LYC
	m.bus.Write(0xFF47, 0xFC) // BGP
	m.bus.Write(0xFF48, 0xFF) // OBP0
	m.bus.Write(0xFF49, 0xFF) // OBP1
	m.bus.Write(0xFF4A, 0x00) // WY
	m.bus.Write(0xFF4B, 0x00) // WX
	m.bus.Write(0xFFFF, 0x00) // IE
	m.bus.Write(0xFF0F, 0xE1) // IF (only lower 5 bits retained)
}

// Reset restores DMG post-boot state without reparsing the ROM, preserving
// external RAM. ResetPostBoot is an alias matching the host UI's naming.
func (m *Machine) Reset()         { m.resetWithCart(m.cart) }
func (m *Machine) ResetPostBoot() { m.Reset() }

// ResetWithBoot resets and, if a boot ROM was supplied via SetBootROM or
// LoadCartridge, starts execution at 0x0000 with it mapped in, instead of
// jumping straight to the assumed post-boot state.
func (m *Machine) ResetWithBoot() {
	m.resetWithCart(m.cart)
	if len(m.bootROM) < 0x100 {
		return
	}
	m.bus.SetBootROM(m.bootROM)
	m.cpu.SetPC(0x0000)
}

// SetButtons updates the joypad state the bus reports, translating a
// 1->0 (newly pressed) transition on any key into the STOP wake-up spec.md
// §4.7 describes, in addition to the bus's own joypad-IRQ edge detection.
func (m *Machine) SetButtons(b Buttons) {
	var mask byte
	if b.A {
		mask |= bus.JoypA
	}
	if b.B {
		mask |= bus.JoypB
	}
	if b.Select {
		mask |= bus.JoypSelectBtn
	}
	if b.Start {
		mask |= bus.JoypStart
	}
	if b.Right {
		mask |= bus.JoypRight
	}
	if b.Left {
		mask |= bus.JoypLeft
	}
	if b.Up {
		mask |= bus.JoypUp
	}
	if b.Down {
		mask |= bus.JoypDown
	}
	m.applyJoypadMask(mask)
}

// SetButton is the FFI-facing single-button form from spec.md §6: id in
// 0..7 ordered A, B, Select, Start, Right, Left, Up, Down.
func (m *Machine) SetButton(id int, pressed bool) {
	bit := [...]byte{bus.JoypA, bus.JoypB, bus.JoypSelectBtn, bus.JoypStart,
		bus.JoypRight, bus.JoypLeft, bus.JoypUp, bus.JoypDown}
	if id < 0 || id >= len(bit) {
		return
	}
	mask := m.pressedMask
	if pressed {
		mask |= bit[id]
	} else {
		mask &^= bit[id]
	}
	m.applyJoypadMask(mask)
}

func (m *Machine) applyJoypadMask(mask byte) {
	newlyPressed := mask &^ m.pressedMask
	m.pressedMask = mask
	m.bus.SetJoypadState(mask)
	if newlyPressed != 0 {
		m.cpu.WakeFromStop()
	}
}

// RunFrame is the spec.md §6 core operation: it advances the CPU (which
// ticks DMA/timer/APU/PPU as a side effect of each Step) until the PPU
// reports a frame complete or at least cyclesPerFrame T-cycles have
// elapsed, matching the scheduler's early-exit-on-vblank contract (§4.7).
func (m *Machine) RunFrame() {
	total := 0
	for total < cyclesPerFrame {
		pc := m.cpu.PC
		c := m.cpu.Step()
		total += c
		m.log.Tracef("PC=%04X cyc=%d total=%d", pc, c, total)
		if m.bus.ConsumeFrameComplete() {
			return
		}
	}
}

// StepFrame runs one frame; the rendered framebuffer is available via
// Framebuffer() afterward.
func (m *Machine) StepFrame() { m.RunFrame() }

// StepFrameNoRender runs one frame exactly like StepFrame. The PPU's
// whole-scanline renderer (§4.3) always writes into the framebuffer as part
// of advancing LY — there is no separate rendering pass to skip — so this
// exists for host callers (frame-skip UI, the blargg harness) that simply
// don't intend to read the framebuffer back, not to save PPU work.
func (m *Machine) StepFrameNoRender() { m.RunFrame() }

// Framebuffer returns the 160x144 RGBA8 (little-endian) pixel buffer last
// written by the PPU.
func (m *Machine) Framebuffer() []byte { return m.bus.PPU().Framebuffer() }

// AudioSampleRate is the spec.md §6 getAudioSampleRate operation.
func (m *Machine) AudioSampleRate() int { return 44100 }

// AudioSamples is the spec.md §6 getAudioSamples(buf, maxFrames) operation:
// it drains up to maxFrames interleaved stereo float32 frames in [-1,1]
// into buf and returns the number of frames written.
func (m *Machine) AudioSamples(buf []float32, maxFrames int) int {
	if maxFrames > len(buf)/2 {
		maxFrames = len(buf) / 2
	}
	frames := m.bus.APU().PullStereo(maxFrames)
	n := 0
	for i := 0; i+1 < len(frames); i += 2 {
		buf[n*2] = float32(frames[i]) / 32768.0
		buf[n*2+1] = float32(frames[i+1]) / 32768.0
		n++
	}
	return n
}

// APUPullStereo drains up to max interleaved int16 stereo frames directly,
// the representation the ebiten/oto host layer consumes without an extra
// float conversion.
func (m *Machine) APUPullStereo(max int) []int16 { return m.bus.APU().PullStereo(max) }

// APUBufferedStereo reports how many stereo frames are currently queued.
func (m *Machine) APUBufferedStereo() int { return m.bus.APU().StereoAvailable() }

// APUClearAudioLatency drops all buffered audio, resyncing playback to the
// current emulation point (used when pausing/unpausing or toggling
// fast-forward, where stale buffered audio would otherwise play back late).
func (m *Machine) APUClearAudioLatency() {
	a := m.bus.APU()
	a.PullStereo(a.StereoAvailable())
}

// APUCapBufferedStereo trims the buffered audio queue down to at most max
// frames by discarding the oldest excess, keeping the most recent audio.
func (m *Machine) APUCapBufferedStereo(max int) {
	a := m.bus.APU()
	if excess := a.StereoAvailable() - max; excess > 0 {
		a.PullStereo(excess)
	}
}

// SetSerialWriter attaches a sink for bytes written to the serial port
// (0xFF01/0xFF02), used by test harnesses to observe blargg's "Passed"/
// "Failed" sentinel without a physical link cable.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.serialW = w
	m.bus.SetSerialWriter(w)
}

// ROMPath returns the path LoadROMFromFile last loaded, or "" if the
// cartridge was loaded from an in-memory buffer.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title field, or "" if none is
// loaded.
func (m *Machine) ROMTitle() string {
	if m.hdr == nil {
		return ""
	}
	return m.hdr.Title
}

// SetUseFetcherBG is a no-op passthrough retained for host/config
// compatibility: the PPU's scanline renderer always uses the fetcher-based
// path (spec.md §4.3's whole-scanline approximation); there is no classic
// renderer left to switch to.
func (m *Machine) SetUseFetcherBG(v bool) { m.cfg.UseFetcherBG = v }
func (m *Machine) UseFetcherBG() bool     { return m.cfg.UseFetcherBG }

// LoadBattery loads previously saved external-RAM (and, for MBC3, RTC)
// bytes into the current cartridge. Returns false if the cartridge isn't
// battery-backed.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.cart.(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the current cartridge's external-RAM (and RTC, for
// MBC3) bytes for persistence. ok is false if the cartridge has no battery
// RAM to save.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	bb, isBB := m.cart.(cart.BatteryBacked)
	if !isBB {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// SaveRAM and LoadRAM are the spec.md §6 persisted-state operation names,
// thin aliases over SaveBattery/LoadBattery.
func (m *Machine) SaveRAM() ([]byte, bool) { return m.SaveBattery() }
func (m *Machine) LoadRAM(data []byte) bool { return m.LoadBattery(data) }

// batteryPathFor derives the conventional .sav sidecar path for a ROM path
// (the ROM's extension replaced by .sav); BatteryPath uses it.
func batteryPathFor(romPath string) string {
	ext := filepath.Ext(romPath)
	return strings.TrimSuffix(romPath, ext) + ".sav"
}

// BatteryPath returns the .sav sidecar path for the currently loaded ROM,
// or "" if no ROM was loaded from a file.
func (m *Machine) BatteryPath() string {
	if m.romPath == "" {
		return ""
	}
	return batteryPathFor(m.romPath)
}
