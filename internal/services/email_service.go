package services

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/zootopia/storefront/internal/models"
	"github.com/zootopia/storefront/pkg/logger"
)

// Notifier delivers one-time codes to a user's email address
type Notifier interface {
	SendMFACode(ctx context.Context, email, code string, validFor time.Duration) error
}

// sesAPI is the subset of the SES client used for sending
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends codes using AWS SES
type SESNotifier struct {
	client      sesAPI
	fromAddress string
	shopName    string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS config for region and builds an SES notifier
func NewSESNotifier(ctx context.Context, region, fromAddress, shopName string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESNotifier(ses.NewFromConfig(cfg), fromAddress, shopName, logger), nil
}

func newSESNotifier(client sesAPI, fromAddress, shopName string, logger *slog.Logger) *SESNotifier {
	if shopName == "" {
		shopName = "Zootopia"
	}
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		shopName:    shopName,
		logger:      logger,
	}
}

var mfaCodeHTML = template.Must(template.New("mfa_code").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: #f8f9fa; border-radius: 4px; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Shop}} sign-in</h1>
        <p>Your verification code is:</p>
        <p class="code">{{.Code}}</p>
        <p>This code expires in {{.Minutes}} minutes.</p>
        <p>If you did not try to sign in, you can ignore this email. Someone may have typed your email address by mistake.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`))

type mfaCodeView struct {
	Shop    string
	Code    string
	Minutes int
}

// SendMFACode emails code to the user. Any failure wraps models.ErrNotifierDispatch.
func (s *SESNotifier) SendMFACode(ctx context.Context, email, code string, validFor time.Duration) error {
	view := mfaCodeView{
		Shop:    s.shopName,
		Code:    code,
		Minutes: int(validFor.Round(time.Minute) / time.Minute),
	}

	var html strings.Builder
	if err := mfaCodeHTML.Execute(&html, view); err != nil {
		return fmt.Errorf("%w: render: %v", models.ErrNotifierDispatch, err)
	}

	text := fmt.Sprintf("Your verification code is: %s\nThis code expires in %d minutes.\n", view.Code, view.Minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(fmt.Sprintf("Your %s verification code", s.shopName)),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(html.String()),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send mfa code email",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", models.ErrNotifierDispatch, err)
	}

	s.logger.Info("mfa code email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
