package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/haasonsaas/tenantagent/internal/tokencipher"
)

// GoogleCredentials locates a service account key and an optional API
// endpoint override.
type GoogleCredentials struct {
	// Field names the config section in errors, e.g. "sheets".
	Field string

	File     string
	JSON     string
	Endpoint string
}

// ClientOptions builds Google API client options scoped to scopes. With an
// endpoint override and no key the client is unauthenticated, which is how
// local fakes are reached.
func (c GoogleCredentials) ClientOptions(ctx context.Context, scopes ...string) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}

	data, err := c.keyJSON()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		if c.Endpoint != "" {
			return append(opts, option.WithoutAuthentication()), nil
		}
		return nil, &tokencipher.ConfigurationError{Field: c.field("credentials_file"), Reason: "service account credentials are required"}
	}

	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, &tokencipher.ConfigurationError{Field: c.field("credentials_json"), Reason: "invalid service account credentials"}
	}
	return append(opts, option.WithCredentials(creds)), nil
}

func (c GoogleCredentials) keyJSON() ([]byte, error) {
	if strings.TrimSpace(c.JSON) != "" {
		return []byte(c.JSON), nil
	}
	if c.File == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, fmt.Errorf("read %s credentials: %w", c.Field, err)
	}
	return data, nil
}

func (c GoogleCredentials) field(name string) string {
	if c.Field == "" {
		return name
	}
	return c.Field + "." + name
}
