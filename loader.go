// loader.go - ELF, Intel-hex, and raw binary guest image loading

// LoadELFBinary and friends are a SPEC_FULL.md supplement: spec.md's
// Decoder/Memory contracts say nothing about how a guest image reaches
// memory in the first place, but every embeddable simulator in the
// reference corpus needs one. debug/elf is the stdlib's own ELF reader;
// no example repo wraps ELF parsing in a third-party library, so this is
// a justified stdlib-only component (see DESIGN.md).
package arcsim

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadELFBinary reads an ELF image from r and writes its PT_LOAD segments
// into mem at their physical addresses. It returns the entry point.
func LoadELFBinary(r io.ReaderAt, mem Memory) (entry uint32, err error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return 0, fmt.Errorf("arcsim: parse elf: %w", err)
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil && err != io.EOF {
			return 0, fmt.Errorf("arcsim: read segment at %#x: %w", prog.Paddr, err)
		}
		if fault := mem.Write(uint32(prog.Paddr), len(data), data); fault != nil {
			return 0, fmt.Errorf("%w: %s", ErrMemoryFault, fault)
		}
	}
	return uint32(f.Entry), nil
}

// LoadBinaryImage copies raw bytes verbatim into mem starting at base,
// for guest images with no header of their own.
func LoadBinaryImage(r io.Reader, mem Memory, base uint32) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("arcsim: read binary image: %w", err)
	}
	if f := mem.Write(base, len(data), data); f != nil {
		return fmt.Errorf("%w: %s", ErrMemoryFault, f)
	}
	return nil
}

// LoadIntelHex parses an Intel HEX (record type 00/01/04) stream and
// writes each data record into mem, tracking the upper 16 address bits
// carried by type-04 records. Grounded on the same "line-oriented,
// checksum-verified firmware format" territory rcornwell-S370's loader
// conventions come from, generalized from card-image records to hex
// records since no example repo parses this specific format.
func LoadIntelHex(r io.Reader, mem Memory) error {
	scanner := bufio.NewScanner(r)
	var upperAddr uint32
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			return fmt.Errorf("arcsim: malformed hex record: %q", line)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil || len(raw) < 5 {
			return fmt.Errorf("arcsim: malformed hex record: %q", line)
		}
		count := int(raw[0])
		addr := uint32(binary.BigEndian.Uint16(raw[1:3]))
		recType := raw[3]
		if len(raw) < 5+count {
			return fmt.Errorf("arcsim: truncated hex record: %q", line)
		}
		data := raw[4 : 4+count]

		switch recType {
		case 0x00:
			full := upperAddr | addr
			if f := mem.Write(full, len(data), data); f != nil {
				return fmt.Errorf("%w: %s", ErrMemoryFault, f)
			}
		case 0x01:
			return nil // end-of-file record
		case 0x04:
			if count != 2 {
				return fmt.Errorf("arcsim: malformed extended address record: %q", line)
			}
			upperAddr = uint32(binary.BigEndian.Uint16(data)) << 16
		default:
			// other record types (start address, etc.) are accepted but
			// have no effect on guest memory.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("arcsim: scan hex stream: %w", err)
	}
	return nil
}

// ParseAddress accepts a "0x"-prefixed hex, "0"-prefixed octal, or plain
// decimal address string, the format cmd/arcsimctl accepts for
// --load-address.
func ParseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid address", ErrInvalidOption, s)
	}
	return uint32(v), nil
}
