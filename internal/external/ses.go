// Package external holds adapters for third-party services: the SES email
// transport, the circuit breaker guarding it, and stubs for environments
// without outbound email.
package external

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"slowpress/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by SESTransport.
// Extracted for testability.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransportConfig holds the configuration for creating an SESTransport.
type SESTransportConfig struct {
	FromAddress string
	FromName    string
	// ConfigSetName is the SES configuration set name for tracking.
	// Optional; if empty, no configuration set is used.
	ConfigSetName string
	Logger        types.Logger
}

// SESTransport implements EmailTransport using AWS SES v2. Authentication
// is handled via IAM roles; the AWS SDK provides built-in retry logic.
type SESTransport struct {
	api           SESAPI
	fromAddr      string
	configSetName string
	logger        types.Logger
}

// NewSESTransport creates an SESTransport from an AWS config.
func NewSESTransport(awsCfg aws.Config, cfg SESTransportConfig) *SESTransport {
	return newSESTransport(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESTransportWithAPI creates an SESTransport with a pre-configured
// SESAPI. Useful for testing with a mock.
func NewSESTransportWithAPI(api SESAPI, cfg SESTransportConfig) *SESTransport {
	return newSESTransport(api, cfg)
}

func newSESTransport(api SESAPI, cfg SESTransportConfig) *SESTransport {
	fromAddr := cfg.FromAddress
	if cfg.FromName != "" {
		fromAddr = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}
	return &SESTransport{
		api:           api,
		fromAddr:      fromAddr,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

// Send transmits one pre-rendered email via SES SendEmail with simple
// content.
func (s *SESTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromAddr),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{
					Html: &sestypes.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
	if s.configSetName != "" {
		input.ConfigurationSetName = aws.String(s.configSetName)
	}

	result, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmail, fmt.Sprintf("ses send failed: %v", err), err)
	}

	if result.MessageId != nil {
		s.logger.Info("email sent", "to", to, "message_id", *result.MessageId)
	}
	return nil
}

// Compile-time assertion that SESTransport satisfies EmailTransport.
var _ types.EmailTransport = (*SESTransport)(nil)
