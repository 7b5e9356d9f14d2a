package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"

	"idsimplify/pkg/apperr"
)

// Cognito resolves principals against a Cognito user pool. The principal id
// is the pool's "sub" attribute.
type Cognito struct {
	api    cognitoidentityprovideriface.CognitoIdentityProviderAPI
	poolID string
}

func NewCognito(api cognitoidentityprovideriface.CognitoIdentityProviderAPI, poolID string) *Cognito {
	return &Cognito{api: api, poolID: poolID}
}

func (c *Cognito) GetUserByID(ctx context.Context, id string) (User, error) {
	return c.find(ctx, "sub", id)
}

func (c *Cognito) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return c.find(ctx, "email", strings.ToLower(email))
}

func (c *Cognito) find(ctx context.Context, attr, value string) (User, error) {
	// ListUsers filter values are double-quoted; quotes in the value would
	// break out of the filter.
	if strings.ContainsAny(value, `"\`) {
		return User{}, fmt.Errorf("cognito %s lookup: %w", attr, apperr.ErrUserNotFound)
	}
	out, err := c.api.ListUsersWithContext(ctx, &cognitoidentityprovider.ListUsersInput{
		UserPoolId: aws.String(c.poolID),
		Filter:     aws.String(fmt.Sprintf("%s = %q", attr, value)),
		Limit:      aws.Int64(1),
	})
	if err != nil {
		return User{}, fmt.Errorf("cognito list users: %w", err)
	}
	if len(out.Users) == 0 {
		return User{}, fmt.Errorf("cognito %s lookup: %w", attr, apperr.ErrUserNotFound)
	}
	return fromCognito(out.Users[0]), nil
}

func fromCognito(u *cognitoidentityprovider.UserType) User {
	attrs := map[string]string{}
	for _, a := range u.Attributes {
		attrs[aws.StringValue(a.Name)] = aws.StringValue(a.Value)
	}
	name := attrs["name"]
	if name == "" {
		name = strings.TrimSpace(attrs["given_name"] + " " + attrs["family_name"])
	}
	id := attrs["sub"]
	if id == "" {
		id = aws.StringValue(u.Username)
	}
	return User{ID: id, Name: name, Email: attrs["email"]}
}
