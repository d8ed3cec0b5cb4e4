// Package notify sends operator alerts over Amazon SES.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

// Config holds SES settings for admin alerts.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	FromAddress     string
	AdminEmails     []string
}

// SESNotifier implements out.AlertNotifier on SES v2.
type SESNotifier struct {
	client *sesv2.Client
	from   string
	admins []string
	log    *logger.Logger
}

var _ out.AlertNotifier = (*SESNotifier)(nil)

func NewSESNotifier(ctx context.Context, cfg Config) (*SESNotifier, error) {
	if cfg.FromAddress == "" || len(cfg.AdminEmails) == 0 {
		return nil, apperr.ConfigError("SES notifier needs a from address and at least one admin email")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.FromAddress,
		admins: cfg.AdminEmails,
		log:    logger.Default().WithField("component", "ses_notifier"),
	}, nil
}

// SendAlert mails every configured admin. Alert delivery failures are
// logged, not propagated: an alert must never fail the pipeline twice.
func (n *SESNotifier) SendAlert(ctx context.Context, subject, body string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: n.admins,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		n.log.WithError(err).Error("admin alert delivery failed: %s", subject)
		return apperr.ExternalError("ses", err)
	}

	n.log.Info("admin alert sent: %s", subject)
	return nil
}
