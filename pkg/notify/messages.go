package notify

import "fmt"

// Composer builds the service's emails.
type Composer struct {
	AppURL string
}

func (c Composer) TenancyCreated(to, tenancyName string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your tenancy %s is ready", tenancyName),
		Content: fmt.Sprintf("The tenancy %q has been created and you are its administrator.\n\nSign in at %s to add organisations and invite colleagues.\n", tenancyName, c.AppURL),
	}
}

func (c Composer) Invited(to, tenancyName, inviterName string) Message {
	if inviterName == "" {
		inviterName = "An administrator"
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("You have been invited to %s", tenancyName),
		Content: fmt.Sprintf("%s has invited you to join the tenancy %q.\n\nSign in at %s to accept or decline the invitation.\n", inviterName, tenancyName, c.AppURL),
	}
}

func (c Composer) Removed(to, tenancyName string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("You have been removed from %s", tenancyName),
		Content: fmt.Sprintf("Your access to the tenancy %q has been removed.\n", tenancyName),
	}
}
