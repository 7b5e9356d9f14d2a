package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idsimplify/pkg/apperr"
)

func TestDefault_LoadsEverySchema(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []string{
		DirectoryUser, Group, Integration, Invitation, Organisation,
		OrganisationUser, Tenancy, TenancyPermissions, User,
	}, s.Names())
}

func TestValidate(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	cases := []struct {
		name   string
		schema string
		body   string
		ok     bool
	}{
		{"tenancy ok", Tenancy, `{"name":"Acme Corp"}`, true},
		{"tenancy too short", Tenancy, `{"name":"Acme"}`, false},
		{"tenancy extra field", Tenancy, `{"name":"Acme Corp","id":"x"}`, false},
		{"tenancy missing name", Tenancy, `{}`, false},
		{"invitation ok", Invitation, `{"email":"user2@acme.com"}`, true},
		{"invitation bad email", Invitation, `{"email":"user2"}`, false},
		{"org user ok", OrganisationUser, `{"userId":"u2","permissions":["iD-P-10000"]}`, true},
		{"org user no perms", OrganisationUser, `{"userId":"u2","permissions":[]}`, false},
		{"integration ok", Integration, `{"name":"AAD","type":"Microsoft Azure AD","credentials":{"tenantId":"t","clientId":"c","clientSecret":"s"}}`, true},
		{"integration bad type", Integration, `{"name":"AAD","type":"Okta","credentials":{"tenantId":"t","clientId":"c","clientSecret":"s"}}`, false},
		{"user ok", User, `{"userId":"u1","createdAt":"1700000000000"}`, true},
		{"not json", User, `{`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Validate([]byte(tc.body), tc.schema)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInputInvalid)
		})
	}
}

func TestDecode(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, s.Decode([]byte(`{"name":"Acme Corp"}`), Tenancy, &body))
	assert.Equal(t, "Acme Corp", body.Name)

	assert.Error(t, s.Validate([]byte(`{}`), "nope"))
}
