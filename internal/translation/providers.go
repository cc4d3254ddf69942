package translation

import (
	"github.com/heraldhq/herald/internal/config"
)

// Providers instantiates every tier whose credentials are configured, in
// tier order. Missing credentials skip the tier; the engine works with
// whatever chain remains.
func Providers(cfg config.TranslationConfig) []Provider {
	var providers []Provider

	if cfg.LLMURL != "" {
		providers = append(providers, NewLLMProvider(LLMConfig{
			BaseURL: cfg.LLMURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		}))
	}
	if cfg.DeepLAPIKey != "" {
		providers = append(providers, NewDeepLProvider(DeepLConfig{APIKey: cfg.DeepLAPIKey}))
	}
	if cfg.GoogleAPIKey != "" {
		providers = append(providers, NewGoogleProvider(GoogleConfig{APIKey: cfg.GoogleAPIKey}))
	}
	if cfg.AzureTranslatorKey != "" {
		providers = append(providers, NewAzureProvider(AzureConfig{
			Key:    cfg.AzureTranslatorKey,
			Region: cfg.AzureTranslatorRegion,
		}))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		providers = append(providers, NewAmazonProvider(AmazonConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}))
	}

	return providers
}
