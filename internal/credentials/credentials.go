// Package credentials resolves the document-source access token and the
// root folder IDs to mirror. Environment overrides are checked first for
// local execution; otherwise a named secret is read from AWS Secrets
// Manager and validated.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// Environment variables that override the secret store for local runs.
// Both must be set for the override to take effect.
const (
	EnvAccessToken = "QUIP_ACCESS_TOKEN"
	EnvFolderIDs   = "QUIP_FOLDER_IDS"
)

// Folder ID plausibility bounds. IDs outside this range are rejected as
// malformed configuration rather than passed to the API.
const (
	minFolderIDLen = 3
	maxFolderIDLen = 100
)

// Sentinel errors for credential resolution failures.
var (
	ErrSecretNotFound  = errors.New("credentials: secret not found")
	ErrMalformedSecret = errors.New("credentials: secret is not valid JSON")
	ErrMissingField    = errors.New("credentials: missing required secret field")
	ErrInvalidFolderID = errors.New("credentials: invalid folder id")
)

// Error wraps any credential resolution failure so callers can classify
// the whole category with errors.As.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Credentials is the resolved access token and target folder list.
// Read-only input to the sync engine; never persisted.
type Credentials struct {
	AccessToken string
	FolderIDs   []string
}

// secretsAPI is the slice of the Secrets Manager SDK the provider uses.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretPayload is the expected JSON shape of the stored secret.
type secretPayload struct {
	AccessToken string `json:"quip_access_token"`
	FolderIDs   string `json:"folder_ids"` // comma-separated
}

// Provider resolves credentials from the environment or a named secret.
type Provider struct {
	api        secretsAPI
	secretName string
	logger     *slog.Logger

	// lookupEnv defaults to os.LookupEnv; tests inject their own.
	lookupEnv func(string) (string, bool)
}

// NewProvider creates a credential provider reading the given secret name.
// api may be nil when the environment override is guaranteed to be set.
func NewProvider(api secretsAPI, secretName string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		api:        api,
		secretName: secretName,
		logger:     logger,
		lookupEnv:  os.LookupEnv,
	}
}

// NewProviderFromConfig creates a provider backed by a real Secrets
// Manager client built from the given AWS configuration.
func NewProviderFromConfig(cfg aws.Config, secretName string, logger *slog.Logger) *Provider {
	return NewProvider(secretsmanager.NewFromConfig(cfg), secretName, logger)
}

// HasLocalOverride reports whether both override environment variables are
// set, in which case no secret store access is needed.
func HasLocalOverride() bool {
	_, tokOK := os.LookupEnv(EnvAccessToken)
	_, idsOK := os.LookupEnv(EnvFolderIDs)

	return tokOK && idsOK
}

// Credentials resolves and validates the access token and folder IDs.
func (p *Provider) Credentials(ctx context.Context) (Credentials, error) {
	if token, folders, ok := p.envOverride(); ok {
		p.logger.Info("using credentials from environment variables")

		ids, err := parseFolderIDs(folders)
		if err != nil {
			return Credentials{}, &Error{Err: err}
		}

		return Credentials{AccessToken: strings.TrimSpace(token), FolderIDs: ids}, nil
	}

	p.logger.Info("retrieving secret", slog.String("secret_name", p.secretName))

	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return Credentials{}, &Error{Err: fmt.Errorf("%w: %q", ErrSecretNotFound, p.secretName)}
		}

		return Credentials{}, &Error{Err: fmt.Errorf("credentials: reading secret %q: %w", p.secretName, err)}
	}

	secret := aws.ToString(out.SecretString)
	if secret == "" {
		return Credentials{}, &Error{Err: fmt.Errorf("%w: secret value is empty", ErrMissingField)}
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(secret), &payload); err != nil {
		return Credentials{}, &Error{Err: fmt.Errorf("%w: %v", ErrMalformedSecret, err)}
	}

	if payload.AccessToken == "" {
		return Credentials{}, &Error{Err: fmt.Errorf("%w: quip_access_token", ErrMissingField)}
	}

	if payload.FolderIDs == "" {
		return Credentials{}, &Error{Err: fmt.Errorf("%w: folder_ids", ErrMissingField)}
	}

	ids, err := parseFolderIDs(payload.FolderIDs)
	if err != nil {
		return Credentials{}, &Error{Err: err}
	}

	p.logger.Info("credentials resolved", slog.Int("folders", len(ids)))

	return Credentials{AccessToken: strings.TrimSpace(payload.AccessToken), FolderIDs: ids}, nil
}

// envOverride returns the environment credential pair when both variables
// are present.
func (p *Provider) envOverride() (token, folders string, ok bool) {
	token, tokOK := p.lookupEnv(EnvAccessToken)
	folders, idsOK := p.lookupEnv(EnvFolderIDs)

	return token, folders, tokOK && idsOK
}

// parseFolderIDs splits a comma-separated folder ID list, trims
// whitespace, drops empties, and validates each ID against the
// plausibility bounds. An empty result is an error.
func parseFolderIDs(raw string) ([]string, error) {
	var ids []string

	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}

		if len(id) < minFolderIDLen {
			return nil, fmt.Errorf("%w: %q (too short)", ErrInvalidFolderID, id)
		}

		if len(id) > maxFolderIDLen {
			return nil, fmt.Errorf("%w: %q (too long)", ErrInvalidFolderID, id)
		}

		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: folder_ids contains no usable ids", ErrInvalidFolderID)
	}

	return ids, nil
}
