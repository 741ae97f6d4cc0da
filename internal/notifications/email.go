package notifications

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/accounts"
)

// ContactLookup resolves the recipient of an event
type ContactLookup interface {
	Contact(ctx context.Context, userID uuid.UUID) (*accounts.Contact, error)
}

// SESAPI is the part of the SES v2 client the email sender uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailSender delivers events as plain-text email through SES
type EmailSender struct {
	client   SESAPI
	contacts ContactLookup
	from     string
}

// NewEmailSender creates an SES email sender
func NewEmailSender(client SESAPI, contacts ContactLookup, from string) *EmailSender {
	return &EmailSender{client: client, contacts: contacts, from: from}
}

func (s *EmailSender) Name() string {
	return "email"
}

func (s *EmailSender) Send(ctx context.Context, event Event) error {
	contact, err := s.contacts.Contact(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}
	if contact.Email == "" {
		return nil
	}

	body := event.Message
	if contact.FullName != "" {
		body = fmt.Sprintf("Hello %s,\n\n%s", contact.FullName, event.Message)
	}

	_, err = s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{contact.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(event.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("event_type"), Value: aws.String(sanitizeTag(string(event.Type)))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SES tag values allow only letters, digits, underscore and dash
func sanitizeTag(v string) string {
	out := []byte(v)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			out[i] = '_'
		}
	}
	return string(out)
}
