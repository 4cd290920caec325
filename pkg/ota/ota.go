// Package ota acompanha o estado de uma atualização de firmware recebida pelo
// serviço GATT de OTA. Os bytes da imagem não são gravados; só offset, tamanho e CRC.
package ota

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"sync"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Opcodes do control point.
const (
	OpPrepareDownload byte = 1
	OpDownload        byte = 2
	OpVerify          byte = 3
	OpFinish          byte = 4
	OpGetStatus       byte = 5
	OpClearStatus     byte = 6
	OpAbort           byte = 7
)

// Status devolvido pelo control point.
type Status byte

const (
	StatusOK Status = iota
	StatusUnsupported
	StatusIllegalState
	StatusVerificationFailed
	StatusInvalidImage
	StatusInvalidImageSize
)

// State é a fase da atualização.
type State byte

const (
	StateIdle State = iota
	StatePrepared
	StateDownloading
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateDownloading:
		return "downloading"
	case StateVerified:
		return "verified"
	}
	return "invalid"
}

// SwitchBlobSize é o tamanho do blob trocado entre os fones: estado, offset, tamanho e CRC.
const SwitchBlobSize = 13

// Upgrader é a máquina de estados da atualização.
type Upgrader struct {
	mu     sync.Mutex
	state  State
	offset uint32
	size   uint32
	crc    uint32
	status Status
	log    *logrus.Entry
}

// NewUpgrader cria um Upgrader ocioso.
func NewUpgrader() *Upgrader {
	return &Upgrader{log: logrus.WithField("component", "ota")}
}

// ControlPoint trata uma escrita no control point.
func (u *Upgrader) ControlPoint(cmd []byte) Status {
	if len(cmd) == 0 {
		return StatusUnsupported
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	st := u.handle(cmd[0], cmd[1:])
	if cmd[0] != OpGetStatus {
		u.status = st
	}
	u.log.WithFields(logrus.Fields{"op": cmd[0], "status": st, "state": u.state}).Debug("comando de OTA")
	return st
}

func (u *Upgrader) handle(op byte, arg []byte) Status {
	switch op {
	case OpPrepareDownload:
		if u.state != StateIdle {
			return StatusIllegalState
		}
		u.state = StatePrepared
	case OpDownload:
		if u.state != StatePrepared {
			return StatusIllegalState
		}
		if len(arg) != 4 {
			return StatusInvalidImageSize
		}
		size := binary.LittleEndian.Uint32(arg)
		if size == 0 {
			return StatusInvalidImageSize
		}
		u.state, u.size, u.offset, u.crc = StateDownloading, size, 0, 0
	case OpVerify:
		if u.state != StateDownloading || u.offset != u.size {
			return StatusIllegalState
		}
		if len(arg) != 4 {
			return StatusUnsupported
		}
		if binary.LittleEndian.Uint32(arg) != u.crc {
			u.reset()
			return StatusVerificationFailed
		}
		u.state = StateVerified
	case OpFinish:
		if u.state != StateVerified {
			return StatusIllegalState
		}
		u.log.WithField("size", u.size).Info("imagem de firmware verificada")
		u.reset()
	case OpGetStatus:
		return u.status
	case OpClearStatus:
		u.status = StatusOK
	case OpAbort:
		u.reset()
	default:
		return StatusUnsupported
	}
	return StatusOK
}

func (u *Upgrader) reset() {
	u.state, u.offset, u.size, u.crc = StateIdle, 0, 0, 0
}

// Data trata uma escrita na característica de dados.
func (u *Upgrader) Data(chunk []byte) Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateDownloading {
		return StatusIllegalState
	}
	if uint64(u.offset)+uint64(len(chunk)) > uint64(u.size) {
		u.reset()
		return StatusInvalidImage
	}
	u.crc = crc32.Update(u.crc, crc32.IEEETable, chunk)
	u.offset += uint32(len(chunk))
	return StatusOK
}

// LastStatus devolve o status do último comando.
func (u *Upgrader) LastStatus() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// Progress devolve o estado, o offset e o tamanho da imagem.
func (u *Upgrader) Progress() (State, uint32, uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state, u.offset, u.size
}

// SwitchReady só libera a troca antes de qualquer byte da imagem chegar.
func (u *Upgrader) SwitchReady() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == StateIdle || u.state == StatePrepared
}

func (u *Upgrader) SwitchGet(_ context.Context, buf []byte) (int, error) {
	if len(buf) < SwitchBlobSize {
		return 0, errors.Wrapf(switchsync.ErrInvalidArgument, "ota: buffer %d bytes", len(buf))
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	buf[0] = byte(u.state)
	binary.LittleEndian.PutUint32(buf[1:], u.offset)
	binary.LittleEndian.PutUint32(buf[5:], u.size)
	binary.LittleEndian.PutUint32(buf[9:], u.crc)
	return SwitchBlobSize, nil
}

func (u *Upgrader) SwitchSet(_ context.Context, blob []byte) error {
	if len(blob) != SwitchBlobSize {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "ota: blob %d bytes", len(blob))
	}
	st := State(blob[0])
	if st > StateVerified {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "ota: state %d", blob[0])
	}
	offset := binary.LittleEndian.Uint32(blob[1:])
	size := binary.LittleEndian.Uint32(blob[5:])
	if offset > size {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "ota: offset %d beyond size %d", offset, size)
	}
	u.mu.Lock()
	u.state, u.offset, u.size = st, offset, size
	u.crc = binary.LittleEndian.Uint32(blob[9:])
	u.mu.Unlock()
	return nil
}
