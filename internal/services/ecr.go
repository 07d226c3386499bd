package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// RegistryCredentials are docker login credentials for one registry
type RegistryCredentials struct {
	Endpoint string
	Username string
	Password string
}

// ECRAPI is the subset of the ECR client used here
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECRService obtains short-lived registry credentials from ECR
type ECRService struct {
	ecrClient ECRAPI
	region    string
}

// NewECRService creates a new ECR service
func NewECRService(cfg aws.Config) *ECRService {
	return &ECRService{
		ecrClient: ecr.NewFromConfig(cfg),
		region:    cfg.Region,
	}
}

// Credentials returns docker login credentials for the account's registry
func (es *ECRService) Credentials(ctx context.Context) (*RegistryCredentials, error) {
	authOutput, err := es.ecrClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ECR authorization token: %w", err)
	}

	if len(authOutput.AuthorizationData) == 0 {
		return nil, errors.New("no authorization data returned")
	}

	authData := authOutput.AuthorizationData[0]
	if authData.AuthorizationToken == nil || authData.ProxyEndpoint == nil {
		return nil, errors.New("incomplete authorization data returned")
	}

	// Token format is base64(username:password)
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(authData.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("invalid authorization token encoding: %w", err)
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || username == "" || password == "" {
		return nil, errors.New("invalid authorization token format")
	}

	return &RegistryCredentials{
		Endpoint: aws.ToString(authData.ProxyEndpoint),
		Username: username,
		Password: password,
	}, nil
}
