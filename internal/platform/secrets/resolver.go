package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ErrInvalidReference indicates the secret reference could not be parsed.
var ErrInvalidReference = errors.New("secrets: invalid reference")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver turns secret://name[#version] references into values from Google Secret Manager.
// Resolved values are cached for the life of the process.
type Resolver struct {
	client  accessor
	project string
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func withAccessor(a accessor) Option {
	return func(r *Resolver) { r.client = a }
}

// NewResolver dials Secret Manager for the given project.
func NewResolver(ctx context.Context, project string, clientOpts []option.ClientOption, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		project: strings.TrimSpace(project),
		logger:  zap.NewNop(),
		cache:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.project == "" {
		return nil, errors.New("secrets: project id is required")
	}
	if r.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: dial secret manager: %w", err)
		}
		r.client = client
	}
	return r, nil
}

// ResolveSecret implements config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, version, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.project, name, version)

	r.mu.Lock()
	cached, ok := r.cache[resource]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	value := strings.TrimSpace(string(resp.GetPayload().GetData()))
	r.logger.Debug("secret resolved", zap.String("secret", name), zap.String("version", version))

	r.mu.Lock()
	r.cache[resource] = value
	r.mu.Unlock()
	return value, nil
}

// Close releases the underlying client.
func (r *Resolver) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func parseReference(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "secret://")
	ref = strings.TrimPrefix(ref, "sm://")
	name, version, _ := strings.Cut(ref, "#")
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	version = strings.TrimSpace(version)
	if version == "" {
		version = "latest"
	}
	return name, version, nil
}
