package config

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SecretManagerSource resolves secrets from GCP Secret Manager, always
// reading the latest version of each secret.
type SecretManagerSource struct {
	client  *secretmanager.Client
	project string
}

// NewSecretManagerSource connects to Secret Manager using ambient platform
// credentials.
func NewSecretManagerSource(ctx context.Context, project string) (*SecretManagerSource, error) {
	if project == "" {
		return nil, fmt.Errorf("secret manager project is not configured: set security.secret_manager_project or GCP_PROJECT")
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}

	return &SecretManagerSource{client: client, project: project}, nil
}

// Get fetches the latest version of the named secret. A secret that does not
// exist maps to ErrSecretNotFound so the resolver continues down the chain.
func (s *SecretManagerSource) Get(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, name),
	}

	res, err := s.client.AccessSecretVersion(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("secret %q: %w", name, ErrSecretNotFound)
		}
		return "", fmt.Errorf("accessing secret %q: %w", name, err)
	}

	return string(res.GetPayload().GetData()), nil
}

// Close releases the underlying client connection.
func (s *SecretManagerSource) Close() error {
	return s.client.Close()
}
