package sender

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// SESConfig holds the Amazon SES provider settings.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	From            string
	// BaseEndpoint overrides the API endpoint (tests).
	BaseEndpoint string
}

// SESProvider sends mail through Amazon SES v2.
type SESProvider struct {
	client *sesv2.Client
	from   string
}

func NewSESProvider(cfg SESConfig) *SESProvider {
	opts := sesv2.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		// Retries live in the shared resilience layer; the SDK must not
		// multiply them.
		Retryer: aws.NopRetryer{},
	}
	if cfg.BaseEndpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.BaseEndpoint)
	}
	return &SESProvider{client: sesv2.New(opts), from: cfg.From}
}

func (p *SESProvider) Name() string { return "ses" }

func (p *SESProvider) Send(ctx context.Context, m *Mail) (string, error) {
	body := &sestypes.Body{}
	if m.HTML != "" {
		body.Html = &sestypes.Content{Data: aws.String(m.HTML)}
	}
	if m.Text != "" {
		body.Text = &sestypes.Content{Data: aws.String(m.Text)}
	}

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{m.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(m.Subject)},
				Body:    body,
			},
		},
	})
	if err != nil {
		return "", classifySESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func classifySESError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return classifyNetworkError("ses", err)
	}
	msg := "ses: " + apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException":
		return apperrors.New(apperrors.CodeRateLimited, msg)
	case "LimitExceededException", "SendingPausedException":
		return apperrors.New(apperrors.CodeQuotaExhausted, msg)
	case "MessageRejected", "MailFromDomainNotVerifiedException",
		"AccountSuspendedException", "BadRequestException":
		return apperrors.New(apperrors.CodeValidation, msg)
	}
	return apperrors.New(apperrors.CodeServiceUnavail, msg)
}
