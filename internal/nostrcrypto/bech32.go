package nostrcrypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Hand-rolled bech32 (BIP-173), used only to render a public key as an
// "npub1..." string for the pairing URL and QR code. No bech32 library
// is present anywhere in the reference pack, so this is a from-scratch
// implementation of the published algorithm.

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func bech32Polymod(values []byte) uint32 {
	gen := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := append(bech32HRPExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := bech32Polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return checksum
}

// convertBits regroups a byte slice between bit-widths, as bech32's
// 8-bit-to-5-bit (and back) conversion requires.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)
	maxVal := uint32(1<<toBits) - 1
	for _, b := range data {
		if uint32(b)>>fromBits != 0 {
			return nil, errors.New("bech32: invalid data for base conversion")
		}
		acc = (acc << fromBits) | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxVal))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxVal))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxVal != 0 {
		return nil, errors.New("bech32: invalid padding in base conversion")
	}
	return out, nil
}

// EncodeNpub renders a hex x-only public key as an "npub1..." bech32
// string.
func EncodeNpub(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return "", fmt.Errorf("decode pubkey: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("pubkey must be 32 bytes, got %d", len(raw))
	}

	data, err := convertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}

	checksum := bech32CreateChecksum("npub", data)
	combined := append(data, checksum...)

	var sb strings.Builder
	sb.WriteString("npub")
	sb.WriteByte('1')
	for _, b := range combined {
		sb.WriteByte(bech32Charset[b])
	}
	return sb.String(), nil
}
