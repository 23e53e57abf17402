package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
)

// sesAPI is the subset of the SES client used for delivery
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService delivers password reset links through AWS SES
type AWSSESEmailService struct {
	client       sesAPI
	fromAddress  string
	resetURLBase string
	logger       *slog.Logger
}

func NewAWSSESEmailService(ctx context.Context, region, fromAddress, resetURLBase string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESEmailService(ses.NewFromConfig(cfg), fromAddress, resetURLBase, logger), nil
}

func newSESEmailService(client sesAPI, fromAddress, resetURLBase string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		client:       client,
		fromAddress:  fromAddress,
		resetURLBase: resetURLBase,
		logger:       logger,
	}
}

func (s *AWSSESEmailService) resetLink(token string) string {
	return s.resetURLBase + "?token=" + url.QueryEscape(token)
}

// SendPasswordResetEmail sends the reset link to the account's address
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := s.resetLink(token)
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	textBody := fmt.Sprintf(`A password reset was requested for your school discipline tracker account.

Open this link to choose a new password:
%s

The link expires in %d minutes and can be used once.
If you did not request a reset you can ignore this message.
`, link, minutes)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <p>A password reset was requested for your school discipline tracker account.</p>
  <p><a href="%s">Choose a new password</a></p>
  <p>The link expires in %d minutes and can be used once.</p>
  <p>If you did not request a reset you can ignore this message.</p>
</body>
</html>
`, link, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Reset your password")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send password reset email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
