package fastpair

import (
	"sync"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
)

// Tamanhos das escritas GATT aceitas pelo provedor em memória.
const (
	keyBasedPairingLen        = 16
	keyBasedPairingWithKeyLen = 80 // requisição + chave pública do seeker
	passkeyLen                = 16
	accountKeyPrefix          = 0x04
)

// MemoryProvider é um provedor de fast pair mantido em memória. A criptografia do
// pareamento fica de fora; as escritas GATT chegam já decifradas.
type MemoryProvider struct {
	mu           sync.Mutex
	keys         []AccountKey
	max          int
	discoverable bool
	pairing      bool

	// OnChange é chamado com a lista nova sempre que ela muda.
	OnChange func(keys []AccountKey)
}

// NewMemoryProvider cria um provedor com lista de até max chaves.
func NewMemoryProvider(max int) *MemoryProvider {
	if max <= 0 {
		max = DefaultAccountKeyNum
	}
	return &MemoryProvider{max: max}
}

func (m *MemoryProvider) AccountKeys() ([]AccountKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AccountKey(nil), m.keys...), nil
}

// UpdateAccountKeys substitui a lista inteira, descartando slots vazios.
func (m *MemoryProvider) UpdateAccountKeys(keys []AccountKey) error {
	m.mu.Lock()
	m.keys = m.keys[:0]
	for _, k := range keys {
		if k.IsZero() {
			continue
		}
		if len(m.keys) == m.max {
			break
		}
		m.keys = append(m.keys, k)
	}
	snapshot := append([]AccountKey(nil), m.keys...)
	m.mu.Unlock()
	m.notify(snapshot)
	return nil
}

// AddAccountKey coloca k no início da lista (mais recente primeiro) e descarta a mais antiga.
func (m *MemoryProvider) AddAccountKey(k AccountKey) {
	m.mu.Lock()
	keys := []AccountKey{k}
	for _, old := range m.keys {
		if old != k && len(keys) < m.max {
			keys = append(keys, old)
		}
	}
	m.keys = keys
	snapshot := append([]AccountKey(nil), keys...)
	m.mu.Unlock()
	m.notify(snapshot)
}

func (m *MemoryProvider) notify(keys []AccountKey) {
	if m.OnChange != nil {
		m.OnChange(keys)
	}
}

func (m *MemoryProvider) Discoverable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discoverable
}

func (m *MemoryProvider) SetDiscoverable(on bool) {
	m.mu.Lock()
	m.discoverable = on
	m.mu.Unlock()
}

func (m *MemoryProvider) Pairing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairing
}

// KeyBasedPairing trata uma escrita na característica de key-based pairing.
func (m *MemoryProvider) KeyBasedPairing(data []byte) error {
	if len(data) != keyBasedPairingLen && len(data) != keyBasedPairingWithKeyLen {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: key-based pairing request of %d bytes", len(data))
	}
	m.mu.Lock()
	m.pairing = true
	m.mu.Unlock()
	return nil
}

// Passkey trata uma escrita na característica de passkey e encerra o pareamento.
func (m *MemoryProvider) Passkey(data []byte) error {
	if len(data) != passkeyLen {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: passkey block of %d bytes", len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pairing {
		return errors.New("fastpair: passkey without pairing in progress")
	}
	m.pairing = false
	return nil
}

// AccountKey trata uma escrita na característica de account key.
func (m *MemoryProvider) AccountKey(data []byte) error {
	if len(data) != AccountKeyLen || data[0] != accountKeyPrefix {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: malformed account key")
	}
	var k AccountKey
	copy(k[:], data)
	m.AddAccountKey(k)
	return nil
}

// MemoryController guarda o estado LE local em memória.
type MemoryController struct {
	mu        sync.Mutex
	rpa       Addr
	irk       []byte
	irkWrites int
}

// NewMemoryController cria um controlador com o RPA inicial dado.
func NewMemoryController(rpa Addr) *MemoryController {
	return &MemoryController{rpa: rpa}
}

func (c *MemoryController) LocalRPA() Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpa
}

func (c *MemoryController) SetLocalRPA(a Addr) {
	c.mu.Lock()
	c.rpa = a
	c.mu.Unlock()
}

func (c *MemoryController) SetLocalIdentityKey(key []byte) error {
	if len(key) != LocalKeyDataLen {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: identity key of %d bytes", len(key))
	}
	c.mu.Lock()
	c.irk = append(c.irk[:0], key...)
	c.irkWrites++
	c.mu.Unlock()
	return nil
}

// IdentityKey devolve a chave em uso e quantas vezes ela foi escrita.
func (c *MemoryController) IdentityKey() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.irk...), c.irkWrites
}
