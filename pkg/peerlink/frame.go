// Package peerlink transporta os dados da troca de papel entre os dois fones
// por um websocket. Cada registro vai num frame binário:
//
//	tag    u8
//	flags  u8   (bit 0: último registro)
//	len    u16  little-endian
//	blob   len bytes
//
// e o lado que recebe responde cada frame com um Ack em JSON.
package peerlink

import (
	"encoding/binary"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
)

const (
	headerLen    = 4
	flagLast     = 0x01
	maxFrameBlob = 0xffff
)

// ErrBadFrame indica um frame truncado ou com tamanho inconsistente.
var ErrBadFrame = errors.New("peerlink: malformed frame")

// EncodeFrame monta o frame de um registro.
func EncodeFrame(rec switchsync.Record) ([]byte, error) {
	if len(rec.Blob) > maxFrameBlob {
		return nil, errors.Wrapf(ErrBadFrame, "blob of %d bytes", len(rec.Blob))
	}
	b := make([]byte, headerLen+len(rec.Blob))
	b[0] = rec.Tag
	if rec.Last {
		b[1] = flagLast
	}
	binary.LittleEndian.PutUint16(b[2:], uint16(len(rec.Blob)))
	copy(b[headerLen:], rec.Blob)
	return b, nil
}

// DecodeFrame lê um frame. maxBlob limita o tamanho aceito (0 = sem limite extra).
func DecodeFrame(b []byte, maxBlob int) (switchsync.Record, error) {
	if len(b) < headerLen {
		return switchsync.Record{}, errors.Wrapf(ErrBadFrame, "%d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint16(b[2:]))
	if n != len(b)-headerLen {
		return switchsync.Record{}, errors.Wrapf(ErrBadFrame, "length field %d, payload %d", n, len(b)-headerLen)
	}
	if maxBlob > 0 && n > maxBlob {
		return switchsync.Record{}, errors.Wrapf(ErrBadFrame, "blob %d bytes exceeds %d", n, maxBlob)
	}
	if b[1]&^flagLast != 0 {
		return switchsync.Record{}, errors.Wrapf(ErrBadFrame, "unknown flags 0x%02x", b[1])
	}
	return switchsync.Record{
		Tag:  b[0],
		Last: b[1]&flagLast != 0,
		Blob: b[headerLen:],
	}, nil
}

// Ack é a resposta a cada frame.
type Ack struct {
	Tag   uint8  `json:"tag"`
	Error string `json:"error,omitempty"`
}
