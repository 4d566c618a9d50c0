package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logical setting names as they appear in the secret store. Environment
// variable names derive from these (gemini-api-key -> GEMINI_API_KEY).
const (
	KeyGeminiAPIKey    = "gemini-api-key"
	KeyOpenAIAPIKey    = "openai-api-key"
	KeyAnthropicAPIKey = "anthropic-api-key"
	KeyEmailUsername   = "email-username"
	KeyEmailPassword   = "email-password"
	KeyEmailSender     = "email-sender"
	KeyEmailRecipients = "email-recipients"
	KeySlackWebhookURL = "slack-webhook-url"
	KeySlackChannel    = "slack-channel"
)

// Source identifies which step of the resolution chain produced a value.
type Source string

const (
	SourceSecretStore Source = "secret-store"
	SourceEnvironment Source = "environment"
	SourceFile        Source = "file-default"
)

// Value is a resolved secret together with where it came from.
type Value struct {
	Value  string
	Source Source
}

// SecretSource provides secrets from a centralized store. A store that does
// not hold the named secret returns an error wrapping ErrSecretNotFound; any
// other error is treated as store degradation.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// ErrSecretNotFound indicates the store does not hold the named secret.
var ErrSecretNotFound = errors.New("secret not found")

// MissingConfigError reports a required setting that no source could provide.
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("required setting %q could not be resolved", e.Key)
}

// Resolved is the immutable result of running the resolution chain once at
// startup. A nil Email or Slack means that channel is not enabled for the
// run; Disabled records why.
type Resolved struct {
	Summarizer SummarizerSettings
	Email      *EmailSettings
	Slack      *SlackSettings
	Disabled   []DisabledChannel
	Pipeline   PipelineConfig
}

// SummarizerSettings holds the provider selection with its resolved credential.
type SummarizerSettings struct {
	Provider  string
	Model     string
	MaxTokens int
	APIKey    Value
	OllamaURL string
}

// EmailSettings holds everything the email channel needs to send.
type EmailSettings struct {
	SMTPServer      string
	SMTPPort        int
	Username        string
	Password        Value
	Sender          string
	Recipients      []string
	SubjectTemplate string
}

// SlackSettings holds everything the Slack channel needs to send.
type SlackSettings struct {
	WebhookURL    Value
	Channel       string
	Username      string
	IconEmoji     string
	MaxPerMessage int
}

// DisabledChannel records a delivery channel excluded from the run.
type DisabledChannel struct {
	Name   string
	Reason string
}

// Resolver resolves settings through the chain: secret store, then
// environment variables, then the config file (non-secrets only).
type Resolver struct {
	cfg   Config
	store SecretSource
}

// NewResolver creates a Resolver. A nil store skips the secret store step.
func NewResolver(cfg Config, store SecretSource) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

// Resolve runs the chain for every setting the configured provider and
// delivery channels need, exactly once. A summarizer credential that cannot
// be resolved is fatal; a delivery channel with missing credentials is
// disabled for the run and recorded in Disabled. Nothing re-reads the
// environment or the store after Resolve returns.
func (r *Resolver) Resolve(ctx context.Context) (*Resolved, error) {
	res := &Resolved{
		Summarizer: SummarizerSettings{
			Provider:  r.cfg.Summarizer.Provider,
			Model:     providerModel(r.cfg.Summarizer),
			MaxTokens: r.cfg.Summarizer.MaxTokens,
			OllamaURL: r.cfg.Summarizer.OllamaURL,
		},
		Pipeline: r.cfg.Pipeline,
	}

	if key := providerSecretKey(r.cfg.Summarizer.Provider); key != "" {
		v, src, err := r.lookup(ctx, key, "", true)
		if err != nil {
			return nil, err
		}
		if v == "" {
			return nil, &MissingConfigError{Key: key}
		}
		res.Summarizer.APIKey = Value{Value: v, Source: src}
	}

	for _, method := range r.cfg.Methods() {
		var err error
		switch method {
		case "email":
			var email *EmailSettings
			if email, err = r.resolveEmail(ctx); err == nil {
				res.Email = email
			}
		case "slack":
			var sl *SlackSettings
			if sl, err = r.resolveSlack(ctx); err == nil {
				res.Slack = sl
			}
		default:
			slog.Warn("delivery channel disabled", "channel", method, "reason", "unknown delivery method")
			res.Disabled = append(res.Disabled, DisabledChannel{Name: method, Reason: "unknown delivery method"})
			continue
		}

		if err != nil {
			// A missing credential disables the channel for this run;
			// anything else (store failure without fallback) is fatal.
			var missing *MissingConfigError
			if !errors.As(err, &missing) {
				return nil, err
			}
			slog.Warn("delivery channel disabled", "channel", method, "reason", missing.Error())
			res.Disabled = append(res.Disabled, DisabledChannel{Name: method, Reason: missing.Error()})
		}
	}

	return res, nil
}

func (r *Resolver) resolveEmail(ctx context.Context) (*EmailSettings, error) {
	fileCfg := r.cfg.Delivery.Email

	username, _, err := r.lookup(ctx, KeyEmailUsername, fileCfg.Username, false)
	if err != nil {
		return nil, err
	}
	if username == "" {
		return nil, &MissingConfigError{Key: KeyEmailUsername}
	}

	password, pwSrc, err := r.lookup(ctx, KeyEmailPassword, "", true)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &MissingConfigError{Key: KeyEmailPassword}
	}

	sender, _, err := r.lookup(ctx, KeyEmailSender, fileCfg.Sender, false)
	if err != nil {
		return nil, err
	}
	if sender == "" {
		sender = username
	}

	recipientsRaw, _, err := r.lookup(ctx, KeyEmailRecipients, strings.Join(fileCfg.Recipients, ","), false)
	if err != nil {
		return nil, err
	}
	recipients := splitList(recipientsRaw)
	if len(recipients) == 0 {
		return nil, &MissingConfigError{Key: KeyEmailRecipients}
	}

	return &EmailSettings{
		SMTPServer:      fileCfg.SMTPServer,
		SMTPPort:        fileCfg.SMTPPort,
		Username:        username,
		Password:        Value{Value: password, Source: pwSrc},
		Sender:          sender,
		Recipients:      recipients,
		SubjectTemplate: fileCfg.SubjectTemplate,
	}, nil
}

func (r *Resolver) resolveSlack(ctx context.Context) (*SlackSettings, error) {
	fileCfg := r.cfg.Delivery.Slack

	webhook, whSrc, err := r.lookup(ctx, KeySlackWebhookURL, "", true)
	if err != nil {
		return nil, err
	}
	if webhook == "" {
		return nil, &MissingConfigError{Key: KeySlackWebhookURL}
	}

	channel, _, err := r.lookup(ctx, KeySlackChannel, fileCfg.Channel, false)
	if err != nil {
		return nil, err
	}

	return &SlackSettings{
		WebhookURL:    Value{Value: webhook, Source: whSrc},
		Channel:       channel,
		Username:      fileCfg.Username,
		IconEmoji:     fileCfg.IconEmoji,
		MaxPerMessage: fileCfg.MaxPerMessage,
	}, nil
}

// lookup runs the resolution chain for one logical key and returns the first
// non-empty hit with its source. A miss everywhere is ("", "", nil); the
// caller decides whether that is an error. Secrets never fall through to the
// file value. An empty value in the store counts as a miss.
//
// A store failure that is not a clean miss aborts the lookup unless
// environment fallback is enabled, in which case the chain continues and the
// degradation is logged.
func (r *Resolver) lookup(ctx context.Context, key, fileValue string, secret bool) (string, Source, error) {
	if r.store != nil {
		v, err := r.store.Get(ctx, key)
		switch {
		case err == nil && v != "":
			slog.Debug("setting resolved", "key", key, "source", SourceSecretStore)
			return v, SourceSecretStore, nil
		case err == nil || errors.Is(err, ErrSecretNotFound):
			// miss, continue down the chain
		case r.cfg.Security.UseEnvironmentVariables:
			slog.Warn("secret store lookup failed, falling back", "key", key, "error", err)
		default:
			return "", "", fmt.Errorf("secret store lookup for %q: %w", key, err)
		}
	}

	if r.cfg.Security.UseEnvironmentVariables {
		if v := os.Getenv(EnvName(key)); v != "" {
			slog.Debug("setting resolved", "key", key, "source", SourceEnvironment)
			return v, SourceEnvironment, nil
		}
	}

	if !secret && fileValue != "" {
		slog.Debug("setting resolved", "key", key, "source", SourceFile)
		return fileValue, SourceFile, nil
	}

	return "", "", nil
}

// EnvName derives the environment variable name for a logical setting name.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// providerSecretKey maps each provider to its required credential key.
// Ollama runs locally and needs none.
func providerSecretKey(provider string) string {
	switch provider {
	case "gemini":
		return KeyGeminiAPIKey
	case "openai":
		return KeyOpenAIAPIKey
	case "anthropic":
		return KeyAnthropicAPIKey
	}
	return ""
}

// providerModel picks the model name matching the selected provider.
func providerModel(cfg SummarizerConfig) string {
	switch cfg.Provider {
	case "openai":
		return cfg.OpenAIModel
	case "anthropic":
		return cfg.AnthropicModel
	case "ollama":
		return cfg.OllamaModel
	}
	return cfg.GeminiModel
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
