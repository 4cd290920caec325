// Package device reúne o estado do próprio fone e a orquestração da troca de papel.
package device

import (
	"context"
	"sync"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
)

// MaxNameLen é o maior nome de dispositivo BLE.
const MaxNameLen = 248

// Settings é o participante da aplicação principal. Fica por último no registro.
// O blob tem tamanho variável: um byte de comprimento seguido do nome.
type Settings struct {
	mu   sync.Mutex
	name string
}

// NewSettings cria as configurações com o nome dado. Nomes acima de MaxNameLen são recusados.
func NewSettings(name string) (*Settings, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &Settings{name: name}, nil
}

func checkName(name string) error {
	if len(name) > MaxNameLen {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "device: name of %d bytes, max %d", len(name), MaxNameLen)
	}
	return nil
}

func (s *Settings) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName troca o nome. Nomes acima de MaxNameLen são recusados.
func (s *Settings) SetName(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

func (s *Settings) SwitchGet(_ context.Context, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkName(s.name); err != nil {
		return 0, err
	}
	n := 1 + len(s.name)
	if len(buf) < n {
		return 0, errors.Wrapf(switchsync.ErrInvalidArgument, "device: buffer %d bytes, need %d", len(buf), n)
	}
	buf[0] = byte(len(s.name))
	copy(buf[1:], s.name)
	return n, nil
}

func (s *Settings) SwitchSet(_ context.Context, blob []byte) error {
	if len(blob) < 1 || int(blob[0]) != len(blob)-1 {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "device: settings blob of %d bytes", len(blob))
	}
	return s.SetName(string(blob[1:]))
}
