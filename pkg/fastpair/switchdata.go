// Package fastpair contém o participante da troca de papel ligado ao provedor
// de fast pair: lista de account keys, descobribilidade, RPA e chave de identidade local.
package fastpair

import (
	"encoding/binary"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
)

const (
	AccountKeyLen   = 16
	AddrLen         = 6
	LocalKeyDataLen = 65 // máscara + IR + IRK + DHK + ER

	// DefaultAccountKeyNum é o tamanho da lista quando a configuração não define outro.
	DefaultAccountKeyNum = 5
)

// AccountKey é uma chave de conta do fast pair.
type AccountKey [AccountKeyLen]byte

// IsZero indica um slot vazio da lista.
func (k AccountKey) IsZero() bool { return k == AccountKey{} }

// Addr é um endereço Bluetooth (ex.: o RPA local).
type Addr [AddrLen]byte

// SwitchData é o registro trocado entre os fones. O layout é fixo e
// atravessa dispositivos, então é serializado campo a campo:
//
//	account keys  n*16
//	discoverable  1
//	local RPA     6
//	local keys    65
//	peer role     1
type SwitchData struct {
	AccountKeys  []AccountKey
	Discoverable bool
	LocalRPA     Addr
	LocalKeyData [LocalKeyDataLen]byte
	PeerRole     switchsync.Role
}

// Size devolve o tamanho do registro para uma lista de n account keys.
func Size(n int) int {
	return n*AccountKeyLen + 1 + AddrLen + LocalKeyDataLen + 1
}

// MarshalTo escreve d em buf com exatamente n slots de account key.
// Chaves além de n são descartadas; slots sobrando ficam zerados.
func (d *SwitchData) MarshalTo(buf []byte, n int) (int, error) {
	size := Size(n)
	if len(buf) < size {
		return 0, errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: buffer %d bytes, need %d", len(buf), size)
	}
	off := 0
	for i := 0; i < n; i++ {
		var k AccountKey
		if i < len(d.AccountKeys) {
			k = d.AccountKeys[i]
		}
		off += copy(buf[off:], k[:])
	}
	buf[off] = 0
	if d.Discoverable {
		buf[off] = 1
	}
	off++
	off += copy(buf[off:], d.LocalRPA[:])
	off += copy(buf[off:], d.LocalKeyData[:])
	buf[off] = byte(d.PeerRole)
	off++
	return off, nil
}

// UnmarshalSwitchData lê um registro de n slots. O tamanho precisa ser exato.
// Slots zerados não entram em AccountKeys.
func UnmarshalSwitchData(b []byte, n int) (*SwitchData, error) {
	if len(b) != Size(n) {
		return nil, errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: blob %d bytes, want %d", len(b), Size(n))
	}
	d := &SwitchData{}
	off := 0
	for i := 0; i < n; i++ {
		var k AccountKey
		off += copy(k[:], b[off:off+AccountKeyLen])
		if !k.IsZero() {
			d.AccountKeys = append(d.AccountKeys, k)
		}
	}
	d.Discoverable = b[off] != 0
	off++
	off += copy(d.LocalRPA[:], b[off:off+AddrLen])
	off += copy(d.LocalKeyData[:], b[off:off+LocalKeyDataLen])
	d.PeerRole = switchsync.Role(b[off])
	return d, nil
}

// EncodeAccountKeys concatena as chaves para persistência.
func EncodeAccountKeys(keys []AccountKey) []byte {
	out := make([]byte, 0, len(keys)*AccountKeyLen)
	for _, k := range keys {
		out = append(out, k[:]...)
	}
	return out
}

// DecodeAccountKeys faz o inverso de EncodeAccountKeys.
func DecodeAccountKeys(b []byte) ([]AccountKey, error) {
	if len(b)%AccountKeyLen != 0 {
		return nil, errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: account key list of %d bytes", len(b))
	}
	keys := make([]AccountKey, 0, len(b)/AccountKeyLen)
	for off := 0; off < len(b); off += AccountKeyLen {
		var k AccountKey
		copy(k[:], b[off:])
		keys = append(keys, k)
	}
	return keys, nil
}

// ModelIDServiceData monta o service data (UUID 0xFE2C) anunciado enquanto o fone
// está descobrível: o model id em 24 bits big-endian.
func ModelIDServiceData(modelID uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], modelID)
	return b[1:]
}
