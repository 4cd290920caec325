package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotPrimary     = errors.New("device: only the primary can start a switch")
	ErrAlreadyPrimary = errors.New("device: primary does not accept switch data")
	ErrNothingToSync  = errors.New("device: registry has no collectible participant")
)

// Link é a conexão com o outro fone durante uma troca.
type Link interface {
	switchsync.Emitter
	Close() error
}

// Dialer abre o enlace com o outro fone.
type Dialer func(ctx context.Context) (Link, error)

// Status é o retrato do orquestrador mostrado no dashboard.
type Status struct {
	Role       string    `json:"role"`
	Ready      bool      `json:"ready"`
	Switches   int       `json:"switches"`
	Applied    int       `json:"applied"`
	LastSwitch time.Time `json:"lastSwitch,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Orchestrator decide quando a troca acontece e guarda o papel local.
type Orchestrator struct {
	coord *switchsync.Coordinator
	dial  Dialer
	role  atomic.Uint32

	switchMu sync.Mutex
	applyMu  sync.Mutex

	mu         sync.Mutex
	switches   int
	applied    int
	lastSwitch time.Time
	lastErr    string

	// OnRoleChange é chamado depois de cada mudança de papel.
	OnRoleChange func(switchsync.Role)

	log *logrus.Entry
}

// NewOrchestrator cria o orquestrador no papel inicial dado.
func NewOrchestrator(coord *switchsync.Coordinator, role switchsync.Role, dial Dialer) *Orchestrator {
	o := &Orchestrator{
		coord: coord,
		dial:  dial,
		log:   logrus.WithField("component", "orchestrator"),
	}
	o.role.Store(uint32(role))
	return o
}

// Role devolve o papel atual.
func (o *Orchestrator) Role() switchsync.Role {
	return switchsync.Role(o.role.Load())
}

func (o *Orchestrator) setRole(r switchsync.Role) {
	o.role.Store(uint32(r))
	o.log.WithField("role", r).Info("papel alterado")
	if o.OnRoleChange != nil {
		o.OnRoleChange(r)
	}
}

func (o *Orchestrator) record(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.lastErr = err.Error()
		return
	}
	o.lastErr = ""
}

// RequestSwitch entrega o papel de primário ao outro fone. A prontidão é
// conferida de novo aqui, imediatamente antes da coleta.
func (o *Orchestrator) RequestSwitch(ctx context.Context) (err error) {
	o.switchMu.Lock()
	defer o.switchMu.Unlock()
	defer func() { o.record(err) }()

	if o.Role() != switchsync.RolePrimary {
		return ErrNotPrimary
	}
	if o.coord.Registry().LastCollectible() < 0 {
		return ErrNothingToSync
	}
	if err := o.coord.CheckReady(); err != nil {
		return err
	}

	link, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	start := time.Now()
	if err := o.coord.Collect(ctx, link); err != nil {
		return errors.Wrap(err, "device: switch aborted")
	}

	o.mu.Lock()
	o.switches++
	o.lastSwitch = time.Now()
	o.mu.Unlock()
	o.log.WithField("took", time.Since(start)).Info("troca concluída")
	o.setRole(switchsync.RoleSecondary)
	return nil
}

// ApplyRecord aplica um registro vindo do primário. O último registro
// aplicado com sucesso torna este fone o primário.
func (o *Orchestrator) ApplyRecord(ctx context.Context, rec switchsync.Record) (err error) {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()
	defer func() { o.record(err) }()

	if o.Role() == switchsync.RolePrimary {
		return ErrAlreadyPrimary
	}
	if err := o.coord.Apply(ctx, int(rec.Tag), rec.Blob); err != nil {
		return err
	}

	o.mu.Lock()
	o.applied++
	o.mu.Unlock()
	if rec.Last {
		o.mu.Lock()
		o.lastSwitch = time.Now()
		o.mu.Unlock()
		o.setRole(switchsync.RolePrimary)
	}
	return nil
}

// Status devolve o estado atual para o dashboard.
func (o *Orchestrator) Status() Status {
	ready := o.coord.IsReady()
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Role:       o.Role().String(),
		Ready:      ready,
		Switches:   o.switches,
		Applied:    o.applied,
		LastSwitch: o.lastSwitch,
		LastError:  o.lastErr,
	}
}
