package solana

import (
	"encoding/binary"
)

// systemProgramID is the all-zero address of the system program that owns
// native SOL transfers.
var systemProgramID = make([]byte, 32)

// systemTransferIndex is the system program instruction index for Transfer.
const systemTransferIndex uint32 = 2

// buildTransferMessage assembles a legacy Solana message carrying a single
// system-program transfer: one required signature, the recipient writable,
// the program account read-only.
func buildTransferMessage(from, to, blockhash []byte, lamports uint64) []byte {
	var msg []byte

	// Header: signatures required, read-only signed, read-only unsigned.
	msg = append(msg, 1, 0, 1)

	// Account keys: fee payer, recipient, system program.
	msg = appendCompactU16(msg, 3)
	msg = append(msg, from...)
	msg = append(msg, to...)
	msg = append(msg, systemProgramID...)

	msg = append(msg, blockhash...)

	// One instruction referencing program index 2 and accounts 0 and 1.
	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2)
	msg = appendCompactU16(msg, 2)
	msg = append(msg, 0, 1)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	msg = appendCompactU16(msg, uint16(len(data)))
	msg = append(msg, data...)

	return msg
}

// serializeTransaction prefixes the message with its compact signature list.
func serializeTransaction(signature, message []byte) []byte {
	out := appendCompactU16(nil, 1)
	out = append(out, signature...)
	out = append(out, message...)
	return out
}

// appendCompactU16 writes the compact-u16 length encoding used throughout
// the Solana wire format.
func appendCompactU16(dst []byte, v uint16) []byte {
	for {
		if v < 0x80 {
			return append(dst, byte(v))
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
