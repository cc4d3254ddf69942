package translation

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/aws/smithy-go"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// AmazonConfig holds the Amazon Translate settings.
type AmazonConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// BaseEndpoint overrides the API endpoint (tests).
	BaseEndpoint string
}

// AmazonProvider is the fifth tier, on Amazon Translate.
type AmazonProvider struct {
	client *awstranslate.Client
}

// NewAmazonProvider builds the Amazon Translate client.
func NewAmazonProvider(cfg AmazonConfig) *AmazonProvider {
	opts := awstranslate.Options{
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
	return &AmazonProvider{client: awstranslate.New(opts)}
}

func (p *AmazonProvider) Name() string { return ProviderAmazon }

func (p *AmazonProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	source := strings.ToLower(primarySubtag(sourceLang))
	if source == "" {
		source = "auto"
	}

	out, err := p.client.TranslateText(ctx, &awstranslate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(source),
		TargetLanguageCode: aws.String(strings.ToLower(primarySubtag(targetLang))),
	})
	if err != nil {
		return "", classifyAmazonError(err)
	}
	return aws.ToString(out.TranslatedText), nil
}

func classifyAmazonError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return classifyNetworkError(ProviderAmazon, err)
	}
	msg := "amazon: " + apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "LimitExceededException":
		return apperrors.New(apperrors.CodeRateLimited, msg)
	case "TextSizeLimitExceededException", "UnsupportedLanguagePairException",
		"InvalidRequestException", "DetectedLanguageLowConfidenceException":
		return apperrors.New(apperrors.CodeValidation, msg)
	}
	return apperrors.New(apperrors.CodeServiceUnavail, msg)
}
