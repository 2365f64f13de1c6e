// internal/common/aws/ses.go
package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESClient struct {
	api SESAPI
}

// LoadConfig resolves credentials from the default chain for region.
func LoadConfig(ctx context.Context, region string) (sdkaws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return sdkaws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}

func NewSESClient(cfg sdkaws.Config) *SESClient {
	return &SESClient{api: ses.NewFromConfig(cfg)}
}

// NewSESClientWithAPI wraps an existing implementation, typically a test double.
func NewSESClientWithAPI(api SESAPI) *SESClient {
	return &SESClient{api: api}
}

// SendText sends a plain-text UTF-8 email and returns the SES message id.
func (s *SESClient) SendText(ctx context.Context, from, to, subject, body string) (string, error) {
	out, err := s.api.SendEmail(ctx, &ses.SendEmailInput{
		Source: sdkaws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    sdkaws.String(subject),
				Charset: sdkaws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    sdkaws.String(body),
					Charset: sdkaws.String("UTF-8"),
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return sdkaws.ToString(out.MessageId), nil
}
