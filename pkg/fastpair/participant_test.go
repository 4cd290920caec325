package fastpair

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"earbud-framework/pkg/database"
	"earbud-framework/pkg/switchsync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) AccountKey {
	var k AccountKey
	k[0] = accountKeyPrefix
	k[15] = b
	return k
}

func irk(b byte) []byte { return bytes.Repeat([]byte{b}, LocalKeyDataLen) }

type earbud struct {
	provider *MemoryProvider
	ctrl     *MemoryController
	store    *database.MemStore
	role     switchsync.Role
	part     *Participant
}

func newEarbud(t *testing.T, role switchsync.Role, rpa byte) *earbud {
	t.Helper()
	e := &earbud{
		provider: NewMemoryProvider(3),
		ctrl:     NewMemoryController(Addr{rpa, rpa, rpa, rpa, rpa, rpa}),
		store:    database.NewMemStore(),
		role:     role,
	}
	e.part = NewParticipant(e.provider, e.ctrl, e.store, func() switchsync.Role { return e.role }, 3)
	return e
}

func TestSwitchDataLayout(t *testing.T) {
	d := &SwitchData{
		AccountKeys:  []AccountKey{key(1)},
		Discoverable: true,
		LocalRPA:     Addr{1, 2, 3, 4, 5, 6},
		PeerRole:     switchsync.RoleSecondary,
	}
	d.LocalKeyData[0] = 0xAA
	buf := make([]byte, 200)

	n, err := d.MarshalTo(buf, 2)
	require.NoError(t, err)
	require.Equal(t, Size(2), n)
	assert.Equal(t, 2*16+1+6+65+1, n)

	assert.Equal(t, key(1), AccountKey(buf[0:16]))
	assert.Equal(t, AccountKey{}, AccountKey(buf[16:32]))
	assert.Equal(t, byte(1), buf[32])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, buf[33:39])
	assert.Equal(t, byte(0xAA), buf[39])
	assert.Equal(t, byte(switchsync.RoleSecondary), buf[n-1])

	back, err := UnmarshalSwitchData(buf[:n], 2)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestSwitchDataRejectsWrongLength(t *testing.T) {
	_, err := UnmarshalSwitchData(make([]byte, Size(3)-1), 3)
	require.ErrorIs(t, err, switchsync.ErrInvalidArgument)

	_, err = (&SwitchData{}).MarshalTo(make([]byte, Size(3)-1), 3)
	require.ErrorIs(t, err, switchsync.ErrInvalidArgument)
}

func TestSwitchGetRequiresRoomForRecord(t *testing.T) {
	e := newEarbud(t, switchsync.RolePrimary, 1)
	require.NoError(t, e.store.UpdateLocalIRK(context.Background(), irk(1)))

	_, err := e.part.SwitchGet(context.Background(), make([]byte, e.part.BlobSize()-1))
	require.ErrorIs(t, err, switchsync.ErrInvalidArgument)
}

func TestSwitchGetFailsWithoutIdentityKey(t *testing.T) {
	e := newEarbud(t, switchsync.RolePrimary, 1)
	_, err := e.part.SwitchGet(context.Background(), make([]byte, 512))
	require.Error(t, err)
	assert.True(t, database.IsNotFound(err))
}

func TestRoundTripToNewPrimary(t *testing.T) {
	ctx := context.Background()
	primary := newEarbud(t, switchsync.RolePrimary, 0x11)
	secondary := newEarbud(t, switchsync.RoleSecondary, 0x22)

	primary.provider.AddAccountKey(key(1))
	primary.provider.AddAccountKey(key(2))
	primary.provider.SetDiscoverable(true)
	require.NoError(t, primary.store.UpdateLocalIRK(ctx, irk(7)))

	buf := make([]byte, switchsync.DefaultMaxBlobSize)
	n, err := primary.part.SwitchGet(ctx, buf)
	require.NoError(t, err)
	require.NoError(t, secondary.part.SwitchSet(ctx, buf[:n]))

	keys, _ := secondary.provider.AccountKeys()
	want, _ := primary.provider.AccountKeys()
	assert.Equal(t, want, keys)
	assert.True(t, secondary.provider.Discoverable())
	assert.Equal(t, primary.ctrl.LocalRPA(), secondary.ctrl.LocalRPA())

	got, writes := secondary.ctrl.IdentityKey()
	assert.Equal(t, irk(7), got)
	assert.Equal(t, 1, writes)
	stored, err := secondary.store.LocalIRK(ctx)
	require.NoError(t, err)
	assert.Equal(t, irk(7), stored)
}

func TestSwitchSetSkipsIdenticalIdentityKey(t *testing.T) {
	ctx := context.Background()
	primary := newEarbud(t, switchsync.RolePrimary, 1)
	secondary := newEarbud(t, switchsync.RoleSecondary, 2)
	require.NoError(t, primary.store.UpdateLocalIRK(ctx, irk(5)))
	require.NoError(t, secondary.store.UpdateLocalIRK(ctx, irk(5)))

	buf := make([]byte, 512)
	n, err := primary.part.SwitchGet(ctx, buf)
	require.NoError(t, err)
	require.NoError(t, secondary.part.SwitchSet(ctx, buf[:n]))

	_, writes := secondary.ctrl.IdentityKey()
	assert.Zero(t, writes)
	assert.Equal(t, 1, secondary.store.Writes(database.IDLocalIRK))
	assert.Equal(t, primary.ctrl.LocalRPA(), secondary.ctrl.LocalRPA())
}

func TestSwitchSetIgnoredWhenSenderWasNotPrimary(t *testing.T) {
	ctx := context.Background()
	sender := newEarbud(t, switchsync.RoleSecondary, 1)
	receiver := newEarbud(t, switchsync.RolePrimary, 2)
	sender.provider.AddAccountKey(key(9))
	require.NoError(t, sender.store.UpdateLocalIRK(ctx, irk(3)))

	buf := make([]byte, 512)
	n, err := sender.part.SwitchGet(ctx, buf)
	require.NoError(t, err)
	require.NoError(t, receiver.part.SwitchSet(ctx, buf[:n]))

	keys, _ := receiver.provider.AccountKeys()
	assert.Empty(t, keys)
	assert.Equal(t, Addr{2, 2, 2, 2, 2, 2}, receiver.ctrl.LocalRPA())
	assert.Zero(t, receiver.store.Writes(database.IDLocalIRK))
}

func TestSwitchSetRejectsWrongLength(t *testing.T) {
	e := newEarbud(t, switchsync.RoleSecondary, 1)
	err := e.part.SwitchSet(context.Background(), make([]byte, e.part.BlobSize()+1))
	require.ErrorIs(t, err, switchsync.ErrInvalidArgument)
}

func TestReadyWhileNotPairing(t *testing.T) {
	e := newEarbud(t, switchsync.RolePrimary, 1)
	assert.True(t, e.part.SwitchReady())

	require.NoError(t, e.provider.KeyBasedPairing(make([]byte, 16)))
	assert.False(t, e.part.SwitchReady())

	require.NoError(t, e.provider.Passkey(make([]byte, 16)))
	assert.True(t, e.part.SwitchReady())
}

func TestSwitchGetRejectsMalformedStoredIdentityKey(t *testing.T) {
	ctx := context.Background()
	for _, size := range []int{16, LocalKeyDataLen + 1} {
		e := newEarbud(t, switchsync.RolePrimary, 1)
		require.NoError(t, e.store.UpdateLocalIRK(ctx, bytes.Repeat([]byte{9}, size)))

		_, err := e.part.SwitchGet(ctx, make([]byte, 512))
		require.ErrorIs(t, err, switchsync.ErrInvalidArgument, "chave de %d bytes", size)
	}
}

var errFlash = errors.New("flash read failed")

// brokenProvider falha ao ler e ao gravar a lista de account keys.
type brokenProvider struct {
	*MemoryProvider
}

func (brokenProvider) AccountKeys() ([]AccountKey, error) { return nil, errFlash }

func (brokenProvider) UpdateAccountKeys([]AccountKey) error { return errFlash }

func TestAccountKeyFailuresKeepCause(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemStore()
	require.NoError(t, store.UpdateLocalIRK(ctx, irk(1)))
	primary := func() switchsync.Role { return switchsync.RolePrimary }
	p := NewParticipant(brokenProvider{NewMemoryProvider(3)}, NewMemoryController(Addr{}), store, primary, 3)

	_, err := p.SwitchGet(ctx, make([]byte, 512))
	require.ErrorIs(t, err, ErrAccountKeys)
	require.ErrorIs(t, err, errFlash)

	good := newEarbud(t, switchsync.RolePrimary, 1)
	require.NoError(t, good.store.UpdateLocalIRK(ctx, irk(2)))
	buf := make([]byte, 512)
	n, err := good.part.SwitchGet(ctx, buf)
	require.NoError(t, err)

	err = p.SwitchSet(ctx, buf[:n])
	require.ErrorIs(t, err, ErrAccountKeys)
	require.ErrorIs(t, err, errFlash)
	assert.Contains(t, err.Error(), "flash read failed")
}
