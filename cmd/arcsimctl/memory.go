// memory.go - flat demo guest address space

package main

import (
	"bytes"
	"os"

	"github.com/arcsim/arcsim"
)

// flatMemory is a byte-slice-backed arcsim.Memory for demos and the
// interactive monitor; production embedders supply their own MMU-backed
// implementation.
type flatMemory struct {
	bytes []byte
}

func newFlatMemory(size int) *flatMemory {
	return &flatMemory{bytes: make([]byte, size)}
}

func (m *flatMemory) Read(addr uint32, width int) ([]byte, *arcsim.Fault) {
	if int(addr)+width > len(m.bytes) || width < 0 {
		return nil, &arcsim.Fault{Kind: arcsim.FaultMemory, PC: addr, Addr: addr}
	}
	out := make([]byte, width)
	copy(out, m.bytes[addr:int(addr)+width])
	return out, nil
}

func (m *flatMemory) Write(addr uint32, width int, data []byte) *arcsim.Fault {
	if int(addr)+width > len(m.bytes) || width < 0 {
		return &arcsim.Fault{Kind: arcsim.FaultMemory, PC: addr, Addr: addr}
	}
	copy(m.bytes[addr:int(addr)+width], data)
	return nil
}

func loadGuestImage(path string, mem arcsim.Memory, loadAddr uint32) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch {
	case bytes.HasPrefix(data, []byte{0x7f, 'E', 'L', 'F'}):
		_, err := arcsim.LoadELFBinary(bytes.NewReader(data), mem)
		return err
	case len(data) > 0 && data[0] == ':':
		return arcsim.LoadIntelHex(bytes.NewReader(data), mem)
	default:
		return arcsim.LoadBinaryImage(bytes.NewReader(data), mem, loadAddr)
	}
}
