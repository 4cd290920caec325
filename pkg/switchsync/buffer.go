package switchsync

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ScratchBuffer é o buffer compartilhado usado durante uma coleta.
// No máximo uma coleta pode segurá-lo por vez.
type ScratchBuffer struct {
	mu   sync.Mutex
	buf  []byte
	held atomic.Int32
}

// NewScratchBuffer aloca um buffer com a capacidade dada.
func NewScratchBuffer(size int) *ScratchBuffer {
	if size < 0 {
		size = 0
	}
	return &ScratchBuffer{buf: make([]byte, size)}
}

// Len devolve a capacidade do buffer.
func (b *ScratchBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.buf)
}

// Held devolve quantas coletas seguram o buffer agora (0 ou 1).
func (b *ScratchBuffer) Held() int {
	if b == nil {
		return 0
	}
	return int(b.held.Load())
}

// Acquire toma posse exclusiva do buffer. Falha com ErrOutOfMemory se outro
// dono já o segura; não bloqueia.
func (b *ScratchBuffer) Acquire() (*Lease, error) {
	if b == nil {
		return nil, errors.Wrap(ErrOutOfMemory, "no scratch buffer")
	}
	if !b.mu.TryLock() {
		return nil, errors.Wrap(ErrOutOfMemory, "scratch buffer busy")
	}
	b.held.Add(1)
	return &Lease{b: b}, nil
}

// Lease é a posse de um ScratchBuffer. Release pode ser chamado mais de uma vez.
type Lease struct {
	b    *ScratchBuffer
	once sync.Once
}

// Bytes devolve o buffer inteiro.
func (l *Lease) Bytes() []byte { return l.b.buf }

// Release devolve o buffer.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.b.held.Add(-1)
		l.b.mu.Unlock()
	})
}
