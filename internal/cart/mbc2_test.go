package cart

import "testing"

func TestMBC2_BuiltInRAM(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom)

	// RAM disabled by default
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	// Enable RAM: address bit 8 clear, low nibble 0x0A
	m.Write(0x0000, 0x0A)

	m.Write(0xA000, 0x07)
	if got := m.Read(0xA000); got != 0xF7 {
		t.Fatalf("RAM RW got %02X want F7", got)
	}

	// Mirrored every 0x200 bytes across the window
	if got := m.Read(0xA200); got != 0xF7 {
		t.Fatalf("RAM mirror got %02X want F7", got)
	}

	// Only the low nibble is stored
	m.Write(0xA001, 0xFF)
	if got := m.Read(0xA001); got != 0xFF {
		t.Fatalf("RAM nibble mask got %02X want FF", got)
	}
}

func TestMBC2_ROMBankSelect(t *testing.T) {
	rom := make([]byte, 256*1024)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom)

	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default bank got %02X want 01", got)
	}

	// Bit 8 of the address set selects ROM bank instead of RAM enable.
	m.Write(0x0100, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank select got %02X want 05", got)
	}

	m.Write(0x0100, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap got %02X want 01", got)
	}
}
