package audio

import (
	"context"
	"testing"
	"time"

	"earbud-framework/pkg/switchsync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeRoundTrip(t *testing.T) {
	src := NewVolume(80, 200)
	dst := NewVolume(0, 0)

	buf := make([]byte, 8)
	n, err := src.SwitchGet(context.Background(), buf)
	require.NoError(t, err)
	require.NoError(t, dst.SwitchSet(context.Background(), buf[:n]))

	a2dp, hfp := dst.Levels()
	assert.Equal(t, uint8(80), a2dp)
	assert.Equal(t, uint8(MaxVolume), hfp)
}

func TestVolumeRejectsBadBlob(t *testing.T) {
	v := NewVolume(1, 1)
	require.ErrorIs(t, v.SwitchSet(context.Background(), []byte{1}), switchsync.ErrInvalidArgument)
	require.ErrorIs(t, v.SwitchSet(context.Background(), []byte{1, 200}), switchsync.ErrInvalidArgument)
	_, err := v.SwitchGet(context.Background(), make([]byte, 1))
	require.ErrorIs(t, err, switchsync.ErrInvalidArgument)

	a2dp, hfp := v.Levels()
	assert.Equal(t, uint8(1), a2dp)
	assert.Equal(t, uint8(1), hfp)
}

func TestEffectGate(t *testing.T) {
	var g EffectGate
	assert.True(t, g.SwitchReady())

	end1 := g.Begin()
	end2 := g.Begin()
	assert.False(t, g.SwitchReady())
	end1()
	end1()
	assert.False(t, g.SwitchReady())
	end2()
	assert.True(t, g.SwitchReady())

	p := switchsync.ParticipantOf("effect", &g)
	assert.NotNil(t, p.Ready)
	assert.Nil(t, p.Get)
	assert.Nil(t, p.Set)
}

func TestRampBlocksSwitchUntilDone(t *testing.T) {
	v := NewVolume(10, 20)
	var g EffectGate
	r := Ramp{Volume: v, Gate: &g, Step: time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- r.SetVolume(context.Background(), 60, 5) }()

	require.Eventually(t, func() bool { return !g.SwitchReady() }, time.Second, time.Millisecond)
	require.NoError(t, <-done)
	assert.True(t, g.SwitchReady())

	a2dp, hfp := v.Levels()
	assert.Equal(t, uint8(60), a2dp)
	assert.Equal(t, uint8(5), hfp)
}

func TestRampStopsWithContext(t *testing.T) {
	v := NewVolume(0, 0)
	var g EffectGate
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.RampTo(ctx, &g, MaxVolume, MaxVolume, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, g.SwitchReady())

	a2dp, _ := v.Levels()
	assert.Equal(t, uint8(1), a2dp)
}

func TestRampWithoutStepOrGate(t *testing.T) {
	v := NewVolume(0, 0)
	require.NoError(t, Ramp{Volume: v}.SetVolume(context.Background(), 200, 3))
	a2dp, hfp := v.Levels()
	assert.Equal(t, uint8(MaxVolume), a2dp)
	assert.Equal(t, uint8(3), hfp)

	require.ErrorIs(t, Ramp{}.SetVolume(context.Background(), 1, 1), switchsync.ErrInvalidArgument)
}
