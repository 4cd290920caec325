package ble

import (
	"context"
	"time"

	"earbud-framework/pkg/ota"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"
)

// ErrCharNotFound indica que o perfil remoto não tem a característica pedida.
var ErrCharNotFound = errors.New("ble: characteristic not found")

// OpenDevice seleciona o adaptador hci<id> como dispositivo padrão.
func OpenDevice(adapterID int) (ble.Device, error) {
	d, err := linux.NewDevice(ble.OptDeviceID(adapterID))
	if err != nil {
		return nil, errors.Wrapf(err, "ble: falha ao selecionar adaptador hci%d", adapterID)
	}
	ble.SetDefaultDevice(d)
	return d, nil
}

// ConnectByAddr procura o fone pelo MAC e conecta. Falhas de conexão são
// repetidas a cada retry até o contexto acabar.
func ConnectByAddr(ctx context.Context, mac string, retry time.Duration) (ble.Client, error) {
	want := normalizeAddr(mac)
	for {
		client, err := ble.Connect(ctx, func(a ble.Advertisement) bool {
			return normalizeAddr(a.Addr().String()) == want
		})
		if err == nil {
			return client, nil
		}
		log.WithError(err).WithField("mac", mac).Debug("Falha ao conectar, tentando de novo")
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "ble: conexão com %s", mac)
		case <-time.After(retry):
		}
	}
}

// ReadOTAStatus lê o último status do control point de OTA.
func ReadOTAStatus(cl ble.Client, p *ble.Profile) (ota.Status, error) {
	c := FindCharacteristic(p, OTAControlPointCharUUID)
	if c == nil {
		return 0, errors.Wrap(ErrCharNotFound, "ota control point")
	}
	b, err := cl.ReadCharacteristic(c)
	if err != nil {
		return 0, errors.Wrap(err, "ble: leitura do control point")
	}
	if len(b) < 1 {
		return 0, errors.New("ble: status de OTA vazio")
	}
	return ota.Status(b[0]), nil
}

// SendOTACommand escreve um comando no control point de OTA (com resposta).
func SendOTACommand(cl ble.Client, p *ble.Profile, cmd []byte) error {
	c := FindCharacteristic(p, OTAControlPointCharUUID)
	if c == nil {
		return errors.Wrap(ErrCharNotFound, "ota control point")
	}
	return errors.Wrap(cl.WriteCharacteristic(c, cmd, false), "ble: escrita no control point")
}

// FastPairModelID extrai o model id anunciado no service data 0xFE2C.
func FastPairModelID(sd []ble.ServiceData) (uint32, bool) {
	for _, s := range sd {
		if !s.UUID.Equal(FastPairSvcUUID) || len(s.Data) != 3 {
			continue
		}
		return uint32(s.Data[0])<<16 | uint32(s.Data[1])<<8 | uint32(s.Data[2]), true
	}
	return 0, false
}
