package directory

import (
	"fmt"

	jmes "github.com/jmespath/go-jmespath"
)

// projection narrows Graph payloads to the fields the API exposes.
type projection struct {
	expr *jmes.JMESPath
}

func mustProjection(expr string) projection {
	return projection{expr: jmes.MustCompile(expr)}
}

var (
	userList     = mustProjection(`[].{id: id, displayName: displayName, givenName: givenName, surname: surname, mail: mail, userPrincipalName: userPrincipalName, jobTitle: jobTitle, accountEnabled: accountEnabled}`)
	memberOfList = mustProjection(`[?"@odata.type"=='#microsoft.graph.group'].{id: id, displayName: displayName, description: description, mail: mail}`)
	groupList    = mustProjection(`[].{id: id, displayName: displayName, description: description, mail: mail, mailNickname: mailNickname}`)
	memberList   = mustProjection(`[].{id: id, type: "@odata.type", displayName: displayName, mail: mail, userPrincipalName: userPrincipalName}`)
	domainList   = mustProjection(`[].{id: id, isDefault: isDefault, isVerified: isVerified}`)

	userObject  = mustProjection(`{id: id, displayName: displayName, givenName: givenName, surname: surname, mail: mail, userPrincipalName: userPrincipalName, accountEnabled: accountEnabled}`)
	groupObject = mustProjection(`{id: id, displayName: displayName, description: description, mail: mail, mailNickname: mailNickname}`)
)

func (p projection) apply(items []any) ([]any, error) {
	if items == nil {
		items = []any{}
	}
	res, err := p.expr.Search(items)
	if err != nil {
		return nil, fmt.Errorf("project directory list: %w", err)
	}
	out, _ := res.([]any)
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func (p projection) object(in Object) (Object, error) {
	res, err := p.expr.Search(map[string]any(in))
	if err != nil {
		return nil, fmt.Errorf("project directory object: %w", err)
	}
	out, _ := res.(map[string]any)
	if out == nil {
		out = Object{}
	}
	return out, nil
}
