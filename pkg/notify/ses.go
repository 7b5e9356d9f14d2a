package notify

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
)

// SES sends messages through Amazon SES as plain-text email.
type SES struct {
	api    sesiface.SESAPI
	sender string
}

func NewSES(api sesiface.SESAPI, sender string) *SES {
	return &SES{api: api, sender: sender}
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, msg Message) error {
	if s.sender == "" {
		return ErrNotConfigured
	}
	_, err := s.api.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.sender),
		Destination: &ses.Destination{ToAddresses: []*string{aws.String(msg.To)}},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(msg.Subject)},
			Body: &ses.Body{
				Text: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(msg.Content)},
			},
		},
	})
	return err
}
