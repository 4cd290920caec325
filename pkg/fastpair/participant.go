package fastpair

import (
	"bytes"
	"context"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrAccountKeys indica que o provedor não conseguiu entregar ou atualizar a lista.
var ErrAccountKeys = errors.New("fastpair: account key list unavailable")

// accountKeysError é ErrAccountKeys com a causa vinda do provedor.
// errors.Is alcança os dois.
type accountKeysError struct {
	cause error
}

func (e *accountKeysError) Error() string {
	return ErrAccountKeys.Error() + ": " + e.cause.Error()
}

func (e *accountKeysError) Is(target error) bool { return target == ErrAccountKeys }

func (e *accountKeysError) Unwrap() error { return e.cause }

// Provider é a visão opaca do provedor de fast pair.
type Provider interface {
	AccountKeys() ([]AccountKey, error)
	UpdateAccountKeys(keys []AccountKey) error
	Discoverable() bool
	SetDiscoverable(on bool)
	Pairing() bool
}

// Controller expõe o estado LE do controlador local.
type Controller interface {
	LocalRPA() Addr
	SetLocalRPA(a Addr)
	SetLocalIdentityKey(key []byte) error
}

// IdentityStore persiste a chave de identidade local (NVRAM).
type IdentityStore interface {
	LocalIRK(ctx context.Context) ([]byte, error)
	UpdateLocalIRK(ctx context.Context, key []byte) error
}

// Participant sincroniza o estado do fast pair durante a troca de papel.
type Participant struct {
	provider Provider
	ctrl     Controller
	store    IdentityStore
	role     func() switchsync.Role
	keyNum   int
	log      *logrus.Entry
}

// NewParticipant cria o participante. role informa o papel local no momento da coleta.
func NewParticipant(p Provider, c Controller, s IdentityStore, role func() switchsync.Role, keyNum int) *Participant {
	if keyNum <= 0 {
		keyNum = DefaultAccountKeyNum
	}
	return &Participant{
		provider: p,
		ctrl:     c,
		store:    s,
		role:     role,
		keyNum:   keyNum,
		log:      logrus.WithField("component", "fastpair"),
	}
}

// BlobSize devolve o tamanho do blob produzido.
func (p *Participant) BlobSize() int { return Size(p.keyNum) }

// SwitchReady bloqueia a troca enquanto um pareamento está em andamento.
func (p *Participant) SwitchReady() bool {
	return !p.provider.Pairing()
}

// SwitchGet coleta o estado atual no fone primário.
func (p *Participant) SwitchGet(ctx context.Context, buf []byte) (int, error) {
	if len(buf) < p.BlobSize() {
		return 0, errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: buffer %d bytes, need %d", len(buf), p.BlobSize())
	}
	keys, err := p.provider.AccountKeys()
	if err != nil {
		return 0, &accountKeysError{cause: err}
	}
	irk, err := p.store.LocalIRK(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "fastpair: read local identity key")
	}
	if len(irk) != LocalKeyDataLen {
		return 0, errors.Wrapf(switchsync.ErrInvalidArgument, "fastpair: stored identity key of %d bytes, want %d", len(irk), LocalKeyDataLen)
	}

	d := &SwitchData{
		AccountKeys:  keys,
		Discoverable: p.provider.Discoverable(),
		LocalRPA:     p.ctrl.LocalRPA(),
		PeerRole:     p.role(),
	}
	copy(d.LocalKeyData[:], irk)
	return d.MarshalTo(buf, p.keyNum)
}

// SwitchSet aplica o estado recebido. Só tem efeito quando quem coletou era o primário,
// isto é, quando este fone está prestes a assumir o papel.
func (p *Participant) SwitchSet(ctx context.Context, blob []byte) error {
	d, err := UnmarshalSwitchData(blob, p.keyNum)
	if err != nil {
		return err
	}
	if d.PeerRole != switchsync.RolePrimary {
		p.log.WithField("peer_role", d.PeerRole).Debug("dados de troca ignorados")
		return nil
	}

	if err := p.provider.UpdateAccountKeys(d.AccountKeys); err != nil {
		return &accountKeysError{cause: err}
	}

	// A escrita na NVRAM é cara: só atualiza quando a chave mudou.
	current, err := p.store.LocalIRK(ctx)
	if err != nil || !bytes.Equal(current, d.LocalKeyData[:]) {
		if err != nil {
			p.log.WithError(err).Debug("chave de identidade local ausente")
		}
		if err := p.ctrl.SetLocalIdentityKey(d.LocalKeyData[:]); err != nil {
			return errors.Wrap(err, "fastpair: set local identity key")
		}
		if err := p.store.UpdateLocalIRK(ctx, d.LocalKeyData[:]); err != nil {
			return errors.Wrap(err, "fastpair: persist local identity key")
		}
	}

	p.ctrl.SetLocalRPA(d.LocalRPA)
	p.provider.SetDiscoverable(d.Discoverable)
	return nil
}
