package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used to fetch the
// classifier bearer token.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// TokenFromSecret loads the bearer token stored under secretID. The secret
// may hold the raw token or a JSON object with a "token" field.
func TokenFromSecret(ctx context.Context, api SecretsAPI, secretID string) (string, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("fetching classifier token %q: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value", secretID)
	}

	value := strings.TrimSpace(*out.SecretString)
	if strings.HasPrefix(value, "{") {
		var doc struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(value), &doc); err != nil {
			return "", fmt.Errorf("parsing secret %q: %w", secretID, err)
		}
		value = doc.Token
	}
	if value == "" {
		return "", fmt.Errorf("secret %q holds an empty token", secretID)
	}
	return value, nil
}
