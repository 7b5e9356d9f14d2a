package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSet(t *testing.T) {
	s, err := ParseSet([]string{"iD-P-10010", "iD-P-10001", "iD-P-10010"}, LevelOrganisation)
	require.NoError(t, err)
	assert.Equal(t, Set{OrganisationRead, DirectoryUsersRead}, s)

	_, err = ParseSet([]string{"iD-P-1"}, LevelOrganisation)
	assert.Error(t, err, "tenancy admin is not an organisation grant")
	_, err = ParseSet([]string{"iD-P-10000"}, LevelTenancy)
	assert.Error(t, err)
	_, err = ParseSet([]string{"iD-P-99"}, LevelTenancy)
	assert.Error(t, err)

	empty, err := ParseSet(nil, LevelTenancy)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSet(t *testing.T) {
	s := NewSet(DirectoryGroupsRead, OrganisationAdmin)
	assert.True(t, s.Has(OrganisationAdmin))
	assert.False(t, s.Has(TenancyAdmin))

	with := s.With(OrganisationAdmin).With(OrganisationRead)
	assert.Equal(t, []string{"iD-P-10000", "iD-P-10001", "iD-P-10014"}, with.Strings())
	assert.Len(t, s, 2, "With must not modify the receiver")

	assert.Equal(t, Set{DirectoryGroupsRead}, s.Without(OrganisationAdmin))
	assert.Equal(t, Set{}, Set(nil).Clone())
}

func TestAnyOf(t *testing.T) {
	allow := AnyOf(OrganisationAdmin, DirectoryUsersRead)
	assert.True(t, allow.GrantedBy(Set{DirectoryUsersRead}))
	assert.True(t, allow.GrantedBy(Set{OrganisationAdmin, DirectoryGroupsDelete}))
	assert.False(t, allow.GrantedBy(Set{DirectoryUsersWrite}))
	assert.False(t, allow.GrantedBy(nil))
	assert.False(t, AnyOf().GrantedBy(Set{TenancyAdmin}))
}

func TestLevelOf(t *testing.T) {
	l, ok := LevelOf(TenancyAdmin)
	assert.True(t, ok)
	assert.Equal(t, LevelTenancy, l)
	_, ok = LevelOf(Code("nope"))
	assert.False(t, ok)
}
