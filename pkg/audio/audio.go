// Package audio guarda o estado de volume que acompanha o papel de primário.
package audio

import (
	"context"
	"sync"
	"time"

	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
)

// MaxVolume é o maior nível aceito pelos perfis A2DP e HFP.
const MaxVolume = 127

const volumeBlobSize = 2

// Volume é o participante de volume: um byte para A2DP e um para HFP.
type Volume struct {
	mu   sync.Mutex
	a2dp uint8
	hfp  uint8
}

// NewVolume cria o estado com os níveis iniciais.
func NewVolume(a2dp, hfp uint8) *Volume {
	return &Volume{a2dp: clamp(a2dp), hfp: clamp(hfp)}
}

func clamp(v uint8) uint8 {
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// Levels devolve os níveis atuais.
func (v *Volume) Levels() (a2dp, hfp uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.a2dp, v.hfp
}

// SetLevels ajusta os níveis (limitados a MaxVolume).
func (v *Volume) SetLevels(a2dp, hfp uint8) {
	v.mu.Lock()
	v.a2dp, v.hfp = clamp(a2dp), clamp(hfp)
	v.mu.Unlock()
}

func (v *Volume) SwitchGet(_ context.Context, buf []byte) (int, error) {
	if len(buf) < volumeBlobSize {
		return 0, errors.Wrap(switchsync.ErrInvalidArgument, "audio: buffer too small")
	}
	v.mu.Lock()
	buf[0], buf[1] = v.a2dp, v.hfp
	v.mu.Unlock()
	return volumeBlobSize, nil
}

func (v *Volume) SwitchSet(_ context.Context, blob []byte) error {
	if len(blob) != volumeBlobSize {
		return errors.Wrapf(switchsync.ErrInvalidArgument, "audio: blob %d bytes", len(blob))
	}
	if blob[0] > MaxVolume || blob[1] > MaxVolume {
		return errors.Wrap(switchsync.ErrInvalidArgument, "audio: volume out of range")
	}
	v.SetLevels(blob[0], blob[1])
	return nil
}

// EffectGate impede a troca enquanto um efeito de volume (rampa) está tocando.
// Não tem estado para migrar.
type EffectGate struct {
	mu     sync.Mutex
	active int
}

// Begin marca o início de um efeito; o retorno encerra o efeito.
func (g *EffectGate) Begin() (end func()) {
	g.mu.Lock()
	g.active++
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.active--
			g.mu.Unlock()
		})
	}
}

func (g *EffectGate) SwitchReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active == 0
}

// DefaultRampStep é o intervalo entre dois degraus de uma rampa de volume.
const DefaultRampStep = 10 * time.Millisecond

func stepToward(cur, target uint8) uint8 {
	switch {
	case cur < target:
		return cur + 1
	case cur > target:
		return cur - 1
	}
	return cur
}

// RampTo leva os níveis até o alvo, um degrau a cada step. Com gate não nulo a troca
// fica bloqueada até a rampa terminar ou ctx acabar.
func (v *Volume) RampTo(ctx context.Context, gate *EffectGate, a2dp, hfp uint8, step time.Duration) error {
	if gate != nil {
		end := gate.Begin()
		defer end()
	}
	a2dp, hfp = clamp(a2dp), clamp(hfp)
	if step <= 0 {
		v.SetLevels(a2dp, hfp)
		return nil
	}

	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		v.mu.Lock()
		v.a2dp, v.hfp = stepToward(v.a2dp, a2dp), stepToward(v.hfp, hfp)
		done := v.a2dp == a2dp && v.hfp == hfp
		v.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ramp expõe o volume ao dashboard: cada ajuste vira uma rampa passando pelo portão.
type Ramp struct {
	Volume *Volume
	Gate   *EffectGate
	Step   time.Duration
}

func (r Ramp) SetVolume(ctx context.Context, a2dp, hfp uint8) error {
	if r.Volume == nil {
		return errors.Wrap(switchsync.ErrInvalidArgument, "audio: no volume state")
	}
	return r.Volume.RampTo(ctx, r.Gate, a2dp, hfp, r.Step)
}
