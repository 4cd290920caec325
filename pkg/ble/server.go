package ble

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"earbud-framework/pkg/config"
	"earbud-framework/pkg/fastpair"
	"earbud-framework/pkg/ota"
	"earbud-framework/pkg/switchsync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AdvertiseWindow é quanto dura cada rodada de anúncio antes de a
// descobribilidade ser reavaliada.
const AdvertiseWindow = 10 * time.Second

const (
	leNameSuffix  = " LE"
	maxDevNameLen = 248
)

var log = logrus.WithField("component", "gatt")

// FastPairHandler recebe as escritas nas características do serviço de fast pair.
type FastPairHandler interface {
	KeyBasedPairing(data []byte) error
	Passkey(data []byte) error
	AccountKey(data []byte) error
}

// LEName devolve o nome anunciado em LE: o nome do dispositivo com " LE" no fim,
// cortado para caber no tamanho máximo.
func LEName(name string) string {
	limit := maxDevNameLen - len(leNameSuffix)
	if len(name) >= limit {
		name = name[:limit-1]
	}
	return name + leNameSuffix
}

// attStatus traduz o erro de um handler para o código ATT devolvido ao cliente.
func attStatus(err error) ble.ATTError {
	switch {
	case err == nil:
		return ble.ErrSuccess
	case errors.Is(err, switchsync.ErrInvalidArgument):
		return ble.ErrInvalAttrValueLen
	default:
		return ble.ErrUnlikely
	}
}

// otaAttStatus traduz o status do control point. Comandos desconhecidos viram
// "request not supported"; o resto segue pela indicação.
func otaAttStatus(s ota.Status) ble.ATTError {
	if s == ota.StatusUnsupported {
		return ble.ErrReqNotSupp
	}
	return ble.ErrSuccess
}

// notifiers guarda os assinantes ativos de uma característica.
type notifiers struct {
	mu  sync.Mutex
	set map[ble.Notifier]struct{}
}

func newNotifiers() *notifiers {
	return &notifiers{set: make(map[ble.Notifier]struct{})}
}

// serve mantém o assinante registrado até a inscrição terminar.
func (n *notifiers) serve(what string) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, ntf ble.Notifier) {
		remote := req.Conn().RemoteAddr()
		log.WithField("remote", remote).Infof("Cliente inscrito (%s)", what)
		n.mu.Lock()
		n.set[ntf] = struct{}{}
		n.mu.Unlock()

		<-ntf.Context().Done()

		n.mu.Lock()
		delete(n.set, ntf)
		n.mu.Unlock()
		log.WithField("remote", remote).Infof("Cliente desinscrito (%s)", what)
	})
}

func (n *notifiers) broadcast(b []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ntf := range n.set {
		if _, err := ntf.Write(b); err != nil {
			log.WithError(err).Debug("Falha ao notificar assinante")
		}
	}
}

// writeHandler adapta uma função de escrita para o go-ble, respondendo com o status ATT.
func writeHandler(what string, fn func([]byte) error) ble.WriteHandler {
	return ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		data := req.Data()
		err := fn(data)
		entry := log.WithFields(logrus.Fields{"char": what, "len": len(data)})
		if err != nil {
			entry.WithError(err).Warn("Escrita rejeitada")
		} else {
			entry.Debugf("Escrita aceita: 0x%s", hex.EncodeToString(data))
		}
		rsp.SetStatus(attStatus(err))
	})
}

// NewFastPairService monta o serviço 0xFE2C (key-based pairing, passkey e account key).
func NewFastPairService(fp FastPairHandler) *ble.Service {
	svc := ble.NewService(FastPairSvcUUID)

	kbp := svc.NewCharacteristic(KeyBasedPairingCharUUID)
	kbp.HandleWrite(writeHandler("key-based pairing", fp.KeyBasedPairing))
	kbp.HandleNotify(newNotifiers().serve("key-based pairing"))

	passkey := svc.NewCharacteristic(PasskeyCharUUID)
	passkey.HandleWrite(writeHandler("passkey", fp.Passkey))
	passkey.HandleNotify(newNotifiers().serve("passkey"))

	account := svc.NewCharacteristic(AccountKeyCharUUID)
	account.HandleWrite(writeHandler("account key", fp.AccountKey))

	return svc
}

// NewOTAService monta o serviço de atualização de firmware. O resultado de cada
// comando do control point também é enviado aos assinantes (notify/indicate).
func NewOTAService(up *ota.Upgrader) *ble.Service {
	svc := ble.NewService(OTASvcUUID)
	subs := newNotifiers()

	cp := svc.NewCharacteristic(OTAControlPointCharUUID)
	cp.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		st := up.ControlPoint(req.Data())
		subs.broadcast([]byte{byte(st)})
		rsp.SetStatus(otaAttStatus(st))
	}))
	cp.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		rsp.Write([]byte{byte(up.LastStatus())})
	}))
	cp.HandleNotify(subs.serve("ota control point"))
	cp.HandleIndicate(subs.serve("ota control point"))

	data := svc.NewCharacteristic(OTADataCharUUID)
	data.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		if st := up.Data(req.Data()); st != ota.StatusOK {
			rsp.SetStatus(ble.ErrUnlikely)
		}
	}))

	return svc
}

// NewServices monta os serviços GATT habilitados. fp ou up nulos desligam o serviço correspondente.
func NewServices(fp FastPairHandler, up *ota.Upgrader) []*ble.Service {
	var svcs []*ble.Service
	if fp != nil {
		svcs = append(svcs, NewFastPairService(fp))
	}
	if up != nil {
		svcs = append(svcs, NewOTAService(up))
	}
	return svcs
}

// advertiser é a parte de ble.Device usada para anunciar.
type advertiser interface {
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
	AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error
}

// advertiseOnce faz uma rodada de anúncio. Com fast pair ligado e o fone descobrível,
// anuncia o service data 0xFE2C com o model id; caso contrário, o nome LE e os serviços.
func advertiseOnce(ctx context.Context, a advertiser, cfg *config.AppConfig, name string, uuids []ble.UUID, discoverable func() bool) error {
	if cfg.FastPair && discoverable != nil && discoverable() {
		log.Debugf("Anunciando fast pair (model id 0x%06x)", cfg.FastPairModelID)
		return a.AdvertiseServiceData16(ctx, FastPairServiceUUID16, fastpair.ModelIDServiceData(cfg.FastPairModelID))
	}
	log.Debugf("Anunciando como '%s'", name)
	return a.AdvertiseNameAndServices(ctx, name, uuids...)
}

// ServerRoutine abre o adaptador, registra os serviços e anuncia até o contexto acabar.
// A escolha do anúncio é refeita a cada AdvertiseWindow.
func ServerRoutine(ctx context.Context, cfg *config.AppConfig, services []*ble.Service, discoverable func() bool) error {
	name := LEName(cfg.DeviceName)
	d, err := linux.NewDeviceWithName(name, ble.OptDeviceID(cfg.AdapterID))
	if err != nil {
		return errors.Wrapf(err, "ble: falha ao selecionar adaptador hci%d", cfg.AdapterID)
	}
	ble.SetDefaultDevice(d)
	defer d.Stop()

	uuids := make([]ble.UUID, 0, len(services))
	for _, s := range services {
		if err := d.AddService(s); err != nil {
			return errors.Wrapf(err, "ble: falha ao registrar serviço %s", s.UUID)
		}
		uuids = append(uuids, s.UUID)
	}

	for ctx.Err() == nil {
		advCtx, cancel := context.WithTimeout(ctx, AdvertiseWindow)
		err = advertiseOnce(advCtx, d, cfg, name, uuids, discoverable)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Ciclo de anúncio terminado. Reiniciando...")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	log.Info("Encerrando o servidor GATT.")
	return nil
}
