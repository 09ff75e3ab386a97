package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// KeyStore reads the upstream API key from SSM Parameter Store.
type KeyStore struct {
	api ssmAPI
}

func NewKeyStore(api ssmAPI) (*KeyStore, error) {
	if api == nil {
		return nil, errors.New("paramstore: ssm api must not be nil")
	}
	return &KeyStore{api: api}, nil
}

// APIKey returns the key stored under name. The parameter may hold the bare
// key or a JSON object with a "token" or "api_key" field.
func (s *KeyStore) APIKey(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: key parameter name is empty")
	}

	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: read %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil {
		return "", fmt.Errorf("paramstore: %q has no value", name)
	}

	raw := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			Token  string `json:"token"`
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", fmt.Errorf("paramstore: decode %q: %w", name, err)
		}
		raw = payload.Token
		if raw == "" {
			raw = payload.APIKey
		}
	}
	if raw == "" {
		return "", fmt.Errorf("paramstore: %q holds an empty key", name)
	}
	return raw, nil
}
