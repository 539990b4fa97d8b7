/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package secretsmanager fetches the credentials used to authenticate
// probes from a cloud secret store.  Secrets hold `username:password`.
package secretsmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcpsecretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrNoSecretSource        = errors.New("no secret source configured")
	ErrMultipleSecretSources = errors.New("only one secret source may be configured")
)

type Credentials struct {
	Username string
	Password string
}

// Source names where probe credentials live.  At most one of the providers
// may be configured.
type Source struct {
	AwsSecretID string
	AwsRegion   string

	AzureSecretID string
	AzureVault    string

	GcpSecretID string
	GcpProject  string
}

func (s Source) IsConfigured() bool {
	return s.AwsSecretID != "" || s.AzureSecretID != "" || s.GcpSecretID != ""
}

// Fetch loads the credentials from whichever provider is configured.
func (s Source) Fetch(ctx context.Context) (*Credentials, error) {
	configured := 0
	for _, id := range []string{s.AwsSecretID, s.AzureSecretID, s.GcpSecretID} {
		if id != "" {
			configured++
		}
	}

	switch {
	case configured == 0:
		return nil, ErrNoSecretSource
	case configured > 1:
		return nil, ErrMultipleSecretSources
	case s.AwsSecretID != "":
		return FetchAWSSecret(ctx, s.AwsSecretID, s.AwsRegion)
	case s.AzureSecretID != "":
		return FetchAzureSecret(ctx, s.AzureSecretID, s.AzureVault)
	default:
		return FetchGcpSecret(ctx, s.GcpSecretID, s.GcpProject)
	}
}

func FetchAWSSecret(ctx context.Context, secretId string, region string) (*Credentials, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default aws config: %w", err)
	}

	secrets := secretsmanager.NewFromConfig(cfg)
	res, err := secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretId})
	if err != nil {
		return nil, fmt.Errorf("failed to get aws secret: %w", err)
	}
	if res.SecretString == nil {
		return nil, fmt.Errorf("aws secret %s not a string", secretId)
	}

	return credsFromSecret(*res.SecretString)
}

func FetchAzureSecret(ctx context.Context, secretId string, keyVaultName string) (*Credentials, error) {
	vaultURI := fmt.Sprintf("https://%s.vault.azure.net/", keyVaultName)

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURI, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	//  An empty string version gets the latest version of the secret.
	resp, err := client.GetSecret(ctx, secretId, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get azure secret: %w", err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("azure secret %s has no value", secretId)
	}

	return credsFromSecret(*resp.Value)
}

func FetchGcpSecret(ctx context.Context, secretId string, projectId string) (*Credentials, error) {
	client, err := gcpsecretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcp secretmanager client: %w", err)
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectId, secretId),
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get gcp secret: %w", err)
	}

	return credsFromSecret(string(result.Payload.Data))
}

func credsFromSecret(secret string) (*Credentials, error) {
	username, password, ok := strings.Cut(strings.TrimSpace(secret), ":")
	if !ok || username == "" {
		return nil, fmt.Errorf("probe credentials secret must be formatted `username:password`")
	}

	return &Credentials{
		Username: username,
		Password: password,
	}, nil
}
