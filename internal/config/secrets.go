package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretProvider resolves secret references, such as SSM parameter paths,
// to their plaintext values. Keys it cannot resolve are left out of the
// result; the loader reports them by the variable that needed them.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// ssmBatchSize is the GetParameters limit of SSM.
const ssmBatchSize = 10

// SSMAPI is the part of the SSM client used to read parameters.
type SSMAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider reads SecureString parameters from SSM Parameter Store.
type SSMProvider struct {
	client SSMAPI
}

var _ SecretProvider = (*SSMProvider)(nil)

// NewSSMProvider creates an SSMProvider. Callers pass ssm.NewFromConfig of
// the process AWS config.
func NewSSMProvider(client SSMAPI) *SSMProvider {
	return &SSMProvider{client: client}
}

// GetParametersBatch decrypts keys in batches of ten, stopping between
// batches when ctx is done.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for start := 0; start < len(keys); start += ssmBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("SSM parameter retrieval interrupted: %w", err)
		}
		batch := keys[start:min(start+ssmBatchSize, len(keys))]

		out, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("SSM GetParameters failed for %d parameters: %w", len(batch), err)
		}
		for _, param := range out.Parameters {
			if param.Name != nil && param.Value != nil {
				result[*param.Name] = *param.Value
			}
		}
	}
	return result, nil
}

// Linker-injected build metadata, e.g.
//
//	go build -ldflags "-X forestagree/internal/config.version=1.2.3 -X forestagree/internal/config.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the build metadata of the binary.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}
