package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/medspa-consent-intake/internal/config"
)

func TestNeedsAWS(t *testing.T) {
	cases := []struct {
		name string
		cfg  appconfig.Config
		want bool
	}{
		{"memory inline stub", appconfig.Config{StoreBackend: "memory", DispatchMode: "inline", EmailProvider: "stub"}, false},
		{"dynamo store", appconfig.Config{StoreBackend: "dynamodb"}, true},
		{"sqs queue", appconfig.Config{DispatchMode: "queue"}, true},
		{"memory queue", appconfig.Config{DispatchMode: "queue", UseMemoryQueue: true}, false},
		{"ses alerts", appconfig.Config{EmailProvider: "ses"}, true},
		{"s3 catalog", appconfig.Config{ProductCatalogSource: "s3://bucket/products.json"}, true},
	}
	for _, tc := range cases {
		if got := NeedsAWS(&tc.cfg); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if NeedsAWS(nil) {
		t.Fatalf("expected nil config to need nothing")
	}
}

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg.Region != "us-east-1" {
		t.Fatalf("expected region us-east-1, got %q", awsCfg.Region)
	}
	if awsCfg.EndpointResolverWithOptions == nil {
		t.Fatalf("expected endpoint resolver")
	}
	endpoint, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sqs.ServiceID, "us-east-1")
	if err != nil {
		t.Fatalf("resolve endpoint: %v", err)
	}
	if endpoint.URL != "http://localhost:4566" {
		t.Fatalf("unexpected endpoint %q", endpoint.URL)
	}
	if _, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint("Bedrock Runtime", "us-east-1"); err == nil {
		t.Fatalf("expected other services to fall through")
	}
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "test" {
		t.Fatalf("expected static credentials, got %v %v", creds.AccessKeyID, err)
	}
}
