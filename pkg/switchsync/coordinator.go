package switchsync

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBlobSize é o tamanho máximo de blob combinado entre os dois fones.
const DefaultMaxBlobSize = 1024

// Record é uma unidade enviada ao outro fone durante a coleta.
// Blob aponta para o buffer compartilhado e só vale durante a chamada a SendSwitchData.
type Record struct {
	Tag  uint8
	Last bool
	Blob []byte
}

// Emitter entrega os registros coletados ao transporte entre os fones.
type Emitter interface {
	SendSwitchData(ctx context.Context, rec Record) error
}

// EmitterFunc adapta uma função a Emitter.
type EmitterFunc func(ctx context.Context, rec Record) error

func (f EmitterFunc) SendSwitchData(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Coordinator executa os protocolos de prontidão, coleta e aplicação sobre um Registry.
type Coordinator struct {
	registry    *Registry
	scratch     *ScratchBuffer
	maxBlobSize int
	log         *logrus.Entry
}

// Option configura um Coordinator.
type Option func(*Coordinator)

// WithMaxBlobSize troca o tamanho máximo de blob. Os dois fones precisam usar o mesmo valor.
func WithMaxBlobSize(n int) Option {
	return func(c *Coordinator) { c.maxBlobSize = n }
}

// WithLogger define o logger usado para diagnosticar a tag que falhou.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator cria um coordenador. scratch pode ser nil; nesse caso toda coleta
// falha com ErrOutOfMemory.
func NewCoordinator(reg *Registry, scratch *ScratchBuffer, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:    reg,
		scratch:     scratch,
		maxBlobSize: DefaultMaxBlobSize,
		log:         logrus.WithField("component", "switch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry devolve o registro do coordenador.
func (c *Coordinator) Registry() *Registry { return c.registry }

// MaxBlobSize devolve o tamanho máximo de blob em uso.
func (c *Coordinator) MaxBlobSize() int { return c.maxBlobSize }

// IsReady consulta os participantes em ordem de tag e para no primeiro que não está pronto.
func (c *Coordinator) IsReady() bool {
	_, ok := c.firstNotReady()
	return !ok
}

// CheckReady é IsReady com a tag culpada no erro.
func (c *Coordinator) CheckReady() error {
	tag, ok := c.firstNotReady()
	if !ok {
		return nil
	}
	p := c.registry.participants[tag]
	c.log.WithFields(logrus.Fields{"tag": tag, "participant": p.Name}).Warn("módulo não está pronto para a troca")
	return &TagError{Op: "ready", Tag: tag, Name: p.Name, Err: ErrNotReady}
}

func (c *Coordinator) firstNotReady() (int, bool) {
	for tag, p := range c.registry.participants {
		if p.Ready != nil && !p.Ready() {
			return tag, true
		}
	}
	return 0, false
}

// Collect serializa cada participante com Get, em ordem crescente de tag, e envia
// cada blob por emit. O primeiro erro interrompe a coleta. O buffer compartilhado
// é devolvido em qualquer caminho de saída.
func (c *Coordinator) Collect(ctx context.Context, emit Emitter) error {
	if emit == nil {
		return errors.Wrap(ErrInvalidArgument, "nil emitter")
	}
	lease, err := c.scratch.Acquire()
	if err != nil {
		c.log.WithError(err).Error("não foi possível alocar o buffer da troca")
		return err
	}
	defer lease.Release()

	buf := lease.Bytes()
	if len(buf) < c.maxBlobSize {
		c.log.WithFields(logrus.Fields{"size": len(buf), "max": c.maxBlobSize}).Error("buffer compartilhado pequeno demais")
		return errors.Wrapf(ErrOutOfMemory, "scratch buffer %d bytes, need %d", len(buf), c.maxBlobSize)
	}

	last := c.registry.LastCollectible()
	for tag, p := range c.registry.participants {
		if p.Get == nil {
			continue
		}
		fields := logrus.Fields{"tag": tag, "participant": p.Name}

		n, err := p.Get(ctx, buf[:c.maxBlobSize])
		if err == nil && (n < 0 || n > c.maxBlobSize) {
			err = errors.Wrapf(ErrInvalidArgument, "reported length %d", n)
		}
		if err != nil {
			c.log.WithFields(fields).WithError(err).Error("falha ao obter dados da troca")
			return &TagError{Op: "collect", Tag: tag, Name: p.Name, Err: err}
		}

		rec := Record{Tag: uint8(tag), Last: tag == last, Blob: buf[:n]}
		if err := emit.SendSwitchData(ctx, rec); err != nil {
			c.log.WithFields(fields).WithError(err).Error("falha ao enviar dados da troca")
			return &TagError{Op: "collect", Tag: tag, Name: p.Name, Err: err}
		}
		c.log.WithFields(fields).WithField("len", n).Debug("dados da troca enviados")
	}
	return nil
}

// Apply entrega blob ao Set do participante da tag.
func (c *Coordinator) Apply(ctx context.Context, tag int, blob []byte) error {
	p, ok := c.registry.At(tag)
	if !ok {
		c.log.WithField("tag", tag).Error("tag inválida")
		return &TagError{Op: "apply", Tag: tag, Err: ErrInvalidTag}
	}
	if p.Set == nil {
		c.log.WithFields(logrus.Fields{"tag": tag, "participant": p.Name}).Error("tag sem função de aplicação")
		return &TagError{Op: "apply", Tag: tag, Name: p.Name, Err: ErrUnsupportedTag}
	}
	if err := p.Set(ctx, blob); err != nil {
		c.log.WithFields(logrus.Fields{"tag": tag, "participant": p.Name}).WithError(err).Error("falha ao aplicar dados da troca")
		return &TagError{Op: "apply", Tag: tag, Name: p.Name, Err: err}
	}
	return nil
}
