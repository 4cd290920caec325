package switchsync

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memState é um participante sintético com estado em memória.
type memState struct {
	data    []byte
	gets    int
	sets    int
	getErr  error
	ready   bool
	readyCh *[]int
	tag     int
}

func (m *memState) SwitchReady() bool {
	if m.readyCh != nil {
		*m.readyCh = append(*m.readyCh, m.tag)
	}
	return m.ready
}

func (m *memState) SwitchGet(_ context.Context, buf []byte) (int, error) {
	m.gets++
	if m.getErr != nil {
		return 0, m.getErr
	}
	if len(buf) < len(m.data) {
		return 0, ErrInvalidArgument
	}
	return copy(buf, m.data), nil
}

func (m *memState) SwitchSet(_ context.Context, blob []byte) error {
	m.sets++
	m.data = append(m.data[:0], blob...)
	return nil
}

type sent struct {
	Tag  uint8
	Last bool
	Blob []byte
}

func recorder(out *[]sent) Emitter {
	return EmitterFunc(func(_ context.Context, rec Record) error {
		*out = append(*out, sent{rec.Tag, rec.Last, append([]byte(nil), rec.Blob...)})
		return nil
	})
}

func mustRegistry(t *testing.T, ps ...Participant) *Registry {
	t.Helper()
	reg, err := NewRegistry(ps...)
	require.NoError(t, err)
	return reg
}

func TestCollectSkipsParticipantsWithoutGet(t *testing.T) {
	a := &memState{data: []byte("a-state")}
	b := &memState{data: []byte("b-state")}
	reg := mustRegistry(t,
		ParticipantOf("a", a),
		Participant{Name: "hole"},
		ParticipantOf("b", b),
	)
	scratch := NewScratchBuffer(DefaultMaxBlobSize)
	c := NewCoordinator(reg, scratch)

	var out []sent
	require.NoError(t, c.Collect(context.Background(), recorder(&out)))

	require.Len(t, out, 2)
	assert.Equal(t, sent{0, false, []byte("a-state")}, out[0])
	assert.Equal(t, sent{2, true, []byte("b-state")}, out[1])
	assert.Equal(t, 0, scratch.Held())
}

func TestCollectOrderAndSingleLastMarker(t *testing.T) {
	tests := []struct {
		name     string
		withGet  []bool
		wantTags []uint8
	}{
		{"todos coletáveis", []bool{true, true, true, true}, []uint8{0, 1, 2, 3}},
		{"último sem get", []bool{true, true, false}, []uint8{0, 1}},
		{"primeiro sem get", []bool{false, true, true}, []uint8{1, 2}},
		{"um só", []bool{false, false, true, false}, []uint8{2}},
		{"nenhum", []bool{false, false}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ps []Participant
			for i, g := range tt.withGet {
				if g {
					ps = append(ps, ParticipantOf("p", &memState{data: []byte{byte(i)}}))
				} else {
					ps = append(ps, Participant{Name: "ready-only", Ready: func() bool { return true }})
				}
			}
			c := NewCoordinator(mustRegistry(t, ps...), NewScratchBuffer(DefaultMaxBlobSize))

			var out []sent
			require.NoError(t, c.Collect(context.Background(), recorder(&out)))

			var tags []uint8
			lasts := 0
			for _, s := range out {
				tags = append(tags, s.Tag)
				assert.Equal(t, []byte{s.Tag}, s.Blob)
				if s.Last {
					lasts++
					assert.Equal(t, tt.wantTags[len(tt.wantTags)-1], s.Tag)
				}
			}
			assert.Equal(t, tt.wantTags, tags)
			if len(tt.wantTags) > 0 {
				assert.Equal(t, 1, lasts)
			}
		})
	}
}

func TestCollectUndersizedBufferCallsNoGet(t *testing.T) {
	a := &memState{data: []byte("x")}
	scratch := NewScratchBuffer(DefaultMaxBlobSize - 1)
	c := NewCoordinator(mustRegistry(t, ParticipantOf("a", a)), scratch)

	var out []sent
	err := c.Collect(context.Background(), recorder(&out))

	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Zero(t, a.gets)
	assert.Empty(t, out)
	assert.Equal(t, 0, scratch.Held())
}

func TestCollectWithoutBuffer(t *testing.T) {
	a := &memState{data: []byte("x")}
	c := NewCoordinator(mustRegistry(t, ParticipantOf("a", a)), nil)

	err := c.Collect(context.Background(), recorder(new([]sent)))
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Zero(t, a.gets)
}

func TestCollectAbortsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")

	t.Run("falha no get", func(t *testing.T) {
		a := &memState{data: []byte("a")}
		b := &memState{getErr: boom}
		d := &memState{data: []byte("d")}
		scratch := NewScratchBuffer(DefaultMaxBlobSize)
		c := NewCoordinator(mustRegistry(t, ParticipantOf("a", a), ParticipantOf("b", b), ParticipantOf("d", d)), scratch)

		var out []sent
		err := c.Collect(context.Background(), recorder(&out))

		require.ErrorIs(t, err, boom)
		tag, ok := FailedTag(err)
		require.True(t, ok)
		assert.Equal(t, 1, tag)
		assert.Len(t, out, 1)
		assert.Zero(t, d.gets)
		assert.Equal(t, 0, scratch.Held())
	})

	t.Run("falha no envio", func(t *testing.T) {
		a := &memState{data: []byte("a")}
		b := &memState{data: []byte("b")}
		scratch := NewScratchBuffer(DefaultMaxBlobSize)
		c := NewCoordinator(mustRegistry(t, ParticipantOf("a", a), ParticipantOf("b", b)), scratch)

		calls := 0
		err := c.Collect(context.Background(), EmitterFunc(func(context.Context, Record) error {
			calls++
			return boom
		}))

		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
		assert.Zero(t, b.gets)
		assert.Equal(t, 0, scratch.Held())
	})

	t.Run("tamanho reportado inválido", func(t *testing.T) {
		bad := Participant{Name: "bad", Get: func(context.Context, []byte) (int, error) { return DefaultMaxBlobSize + 1, nil }}
		scratch := NewScratchBuffer(2 * DefaultMaxBlobSize)
		c := NewCoordinator(mustRegistry(t, bad), scratch)

		err := c.Collect(context.Background(), recorder(new([]sent)))
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, 0, scratch.Held())
	})
}

func TestCollectGetSeesMaxBlobSize(t *testing.T) {
	var seen int
	p := Participant{Name: "sensor", Get: func(_ context.Context, buf []byte) (int, error) {
		seen = len(buf)
		return 0, nil
	}}
	c := NewCoordinator(mustRegistry(t, p), NewScratchBuffer(4096), WithMaxBlobSize(300))
	require.NoError(t, c.Collect(context.Background(), recorder(new([]sent))))
	assert.Equal(t, 300, seen)
}

func TestCollectRejectsConcurrentPass(t *testing.T) {
	scratch := NewScratchBuffer(DefaultMaxBlobSize)
	var inner error
	var c *Coordinator
	p := Participant{Name: "reentrant", Get: func(ctx context.Context, buf []byte) (int, error) {
		inner = c.Collect(ctx, recorder(new([]sent)))
		return 0, nil
	}}
	c = NewCoordinator(mustRegistry(t, p), scratch)

	require.NoError(t, c.Collect(context.Background(), recorder(new([]sent))))
	require.ErrorIs(t, inner, ErrOutOfMemory)
	assert.Equal(t, 0, scratch.Held())
}

func TestCollectNilEmitter(t *testing.T) {
	c := NewCoordinator(mustRegistry(t), NewScratchBuffer(DefaultMaxBlobSize))
	require.ErrorIs(t, c.Collect(context.Background(), nil), ErrInvalidArgument)
}

func TestReadinessShortCircuits(t *testing.T) {
	for notReady := 0; notReady < 4; notReady++ {
		var calls []int
		var ps []Participant
		for i := 0; i < 4; i++ {
			m := &memState{ready: i != notReady, readyCh: &calls, tag: i}
			ps = append(ps, ParticipantOf("m", m))
		}
		c := NewCoordinator(mustRegistry(t, ps...), nil)

		assert.False(t, c.IsReady())
		want := make([]int, 0, notReady+1)
		for i := 0; i <= notReady; i++ {
			want = append(want, i)
		}
		assert.Equal(t, want, calls)
	}
}

func TestReadinessIgnoresParticipantsWithoutPredicate(t *testing.T) {
	c := NewCoordinator(mustRegistry(t,
		Participant{Name: "sem predicado"},
		Participant{Name: "pronto", Ready: func() bool { return true }},
	), nil)
	assert.True(t, c.IsReady())
	assert.NoError(t, c.CheckReady())
}

func TestCheckReadyReportsTag(t *testing.T) {
	c := NewCoordinator(mustRegistry(t,
		Participant{Name: "ok", Ready: func() bool { return true }},
		Participant{Name: "pairing", Ready: func() bool { return false }},
	), nil)

	err := c.CheckReady()
	require.ErrorIs(t, err, ErrNotReady)
	var te *TagError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Tag)
	assert.Equal(t, "pairing", te.Name)
}

func TestApplyValidatesTag(t *testing.T) {
	a := &memState{data: []byte("a")}
	b := &memState{data: []byte("b")}
	c := NewCoordinator(mustRegistry(t,
		ParticipantOf("a", a),
		Participant{Name: "hole"},
		ParticipantOf("b", b),
	), nil)

	tests := []struct {
		name string
		tag  int
		want error
	}{
		{"negativa", -1, ErrInvalidTag},
		{"fora do registro", 3, ErrInvalidTag},
		{"bem fora", 255, ErrInvalidTag},
		{"sem set", 1, ErrUnsupportedTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Apply(context.Background(), tt.tag, []byte("zzz"))
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, []byte("a"), a.data)
			assert.Equal(t, []byte("b"), b.data)
			assert.Zero(t, a.sets+b.sets)
		})
	}
}

func TestApplyPropagatesParticipantError(t *testing.T) {
	boom := errors.New("layout mismatch")
	c := NewCoordinator(mustRegistry(t, Participant{
		Name: "strict",
		Set:  func(context.Context, []byte) error { return boom },
	}), nil)

	err := c.Apply(context.Background(), 0, nil)
	require.ErrorIs(t, err, boom)
	tag, ok := FailedTag(err)
	require.True(t, ok)
	assert.Equal(t, 0, tag)
}

func TestApplyIsNotDeduplicated(t *testing.T) {
	a := &memState{}
	c := NewCoordinator(mustRegistry(t, ParticipantOf("a", a)), nil)
	require.NoError(t, c.Apply(context.Background(), 0, []byte("1")))
	require.NoError(t, c.Apply(context.Background(), 0, []byte("1")))
	assert.Equal(t, 2, a.sets)
}

func TestCollectApplyRoundTrip(t *testing.T) {
	src := []*memState{{data: []byte("keys:1,2,3")}, {data: bytes.Repeat([]byte{7}, 200)}}
	dst := []*memState{{}, {}}

	primary := NewCoordinator(mustRegistry(t, ParticipantOf("a", src[0]), ParticipantOf("b", src[1])), NewScratchBuffer(DefaultMaxBlobSize))
	secondary := NewCoordinator(mustRegistry(t, ParticipantOf("a", dst[0]), ParticipantOf("b", dst[1])), nil)

	err := primary.Collect(context.Background(), EmitterFunc(func(ctx context.Context, rec Record) error {
		return secondary.Apply(ctx, int(rec.Tag), rec.Blob)
	}))
	require.NoError(t, err)
	for i := range src {
		assert.Equal(t, src[i].data, dst[i].data)
	}
}

func TestNewRegistryLimits(t *testing.T) {
	_, err := NewRegistry(make([]Participant, MaxParticipants+1)...)
	require.ErrorIs(t, err, ErrInvalidArgument)

	reg, err := NewRegistry(make([]Participant, MaxParticipants)...)
	require.NoError(t, err)
	assert.Equal(t, MaxParticipants, reg.Len())
	assert.Equal(t, -1, reg.LastCollectible())
}

func TestRegistryIsImmutable(t *testing.T) {
	ps := []Participant{{Name: "a"}, {Name: "b"}}
	reg := mustRegistry(t, ps...)
	ps[0].Name = "mudou"
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}
