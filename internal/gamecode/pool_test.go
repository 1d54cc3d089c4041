package gamecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStartsClosed(t *testing.T) {
	t.Parallel()

	p := NewPool()
	assert.Equal(t, Closed, p.State())
	assert.Equal(t, "closed", p.State().String())
}

func TestPoolJoinRequiresOpen(t *testing.T) {
	t.Parallel()

	p := NewPool()
	added, err := p.Join(Member{ID: 1, Name: "a"}, Policy{}, nil)
	assert.False(t, added)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Zero(t, p.Size())

	_, err = p.Leave(1)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolOpenTitle(t *testing.T) {
	t.Parallel()

	p := NewPool()
	assert.False(t, p.Open("Trivia"))
	assert.Equal(t, "Trivia", p.Title())
	assert.True(t, p.Open(""))
	assert.Equal(t, "Trivia", p.Title(), "empty title keeps the previous one")
	p.Open("Finals")
	assert.Equal(t, "Finals", p.Title())

	assert.True(t, p.Close())
	assert.False(t, p.Close(), "closing twice is a no-op")
	assert.Equal(t, "Finals", p.Title())
}

func TestPoolJoinLeaveIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Open("")

	added, err := p.Join(Member{ID: 1, Name: "a", Roles: []string{"member"}}, Policy{}, nil)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = p.Join(Member{ID: 1, Name: "a"}, Policy{}, nil)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, p.Size())
	assert.Nil(t, p.Members()[0].Roles, "roles are not retained")

	removed, err := p.Leave(2)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = p.Leave(1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Zero(t, p.Size())
}

func TestPoolMembersKeepJoinOrder(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Open("")
	for _, id := range []int64{30, 10, 20} {
		_, err := p.Join(Member{ID: id}, Policy{}, nil)
		require.NoError(t, err)
	}
	_, err := p.Leave(10)
	require.NoError(t, err)

	ids := []int64{}
	for _, m := range p.Members() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{30, 20}, ids)
}

func TestPoolClearWorksWhenClosed(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Open("")
	_, _ = p.Join(Member{ID: 1}, Policy{}, nil)
	_, _ = p.Join(Member{ID: 2}, Policy{}, nil)
	p.Close()

	assert.Equal(t, 2, p.Clear())
	assert.Zero(t, p.Size())
	assert.False(t, p.Contains(1))
}

func TestPolicyAdmission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		required []string
		roles    []string
		wantErr  bool
	}{
		{name: "no requirement", roles: nil},
		{name: "match", required: []string{"Player"}, roles: []string{"member", "player"}},
		{name: "match with spaces", required: []string{" administrator "}, roles: []string{"Administrator"}},
		{name: "missing", required: []string{"player"}, roles: []string{"member"}, wantErr: true},
		{name: "no roles at all", required: []string{"player", "vip"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewPool()
			p.Open("")
			_, err := p.Join(Member{ID: 7, Roles: tt.roles}, Policy{RequiredRoles: tt.required}, nil)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrRoleIneligible)
			var re *RoleError
			require.True(t, errors.As(err, &re))
			assert.NotEmpty(t, re.Reason())
			assert.Zero(t, p.Size())
		})
	}
}

func TestRoleErrorReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "requires the player role", (&RoleError{Required: []string{"player"}}).Reason())
	assert.Equal(t, "requires one of: player, vip", (&RoleError{Required: []string{"player", "vip"}}).Reason())
	assert.Equal(t, "missing required role: requires the player role", (&RoleError{Required: []string{"player"}}).Error())
}

func TestPoolJoinRespectsExclusion(t *testing.T) {
	t.Parallel()

	ex := NewExclusionSet()
	ex.Record(Member{ID: 5})

	p := NewPool()
	p.Open("")
	_, err := p.Join(Member{ID: 5}, Policy{ExcludeSelected: true}, ex)
	assert.ErrorIs(t, err, ErrRecentlySelected)

	added, err := p.Join(Member{ID: 5}, Policy{ExcludeSelected: false}, ex)
	require.NoError(t, err)
	assert.True(t, added, "exclusion only applies when the policy enables it")
}

func TestExclusionSet(t *testing.T) {
	t.Parallel()

	var nilSet *ExclusionSet
	assert.False(t, nilSet.Contains(1))

	ex := NewExclusionSet()
	ex.Record(Member{ID: 1}, Member{ID: 2}, Member{ID: 1})
	assert.Equal(t, 2, ex.Len())
	assert.True(t, ex.Contains(2))
	assert.Equal(t, 2, ex.Clear())
	assert.False(t, ex.Contains(2))
	assert.Zero(t, ex.Clear())
}
