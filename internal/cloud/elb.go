package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
)

// ELBClient finds classic load balancers, which is how Kubernetes exposes
// LoadBalancer services on AWS.
type ELBClient struct {
	api elasticloadbalancing.DescribeLoadBalancersAPIClient
}

// NewELBClient builds an ELBClient for the given account and region.
func NewELBClient(ctx context.Context, cfg AWSConfig) (*ELBClient, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	api := elasticloadbalancing.NewFromConfig(awsCfg, func(o *elasticloadbalancing.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &ELBClient{api: api}, nil
}

// NewELBClientFromAPI wires an existing API implementation, used by tests.
func NewELBClientFromAPI(api elasticloadbalancing.DescribeLoadBalancersAPIClient) *ELBClient {
	return &ELBClient{api: api}
}

// FindLoadBalancerByDNSName pages through all load balancers in the region
// and returns the one whose DNS name matches, or nil when none does. The
// DNS name is the only stable handle a Service of type LoadBalancer
// exposes.
func (c *ELBClient) FindLoadBalancerByDNSName(ctx context.Context, dnsName string) (*elbtypes.LoadBalancerDescription, error) {
	paginator := elasticloadbalancing.NewDescribeLoadBalancersPaginator(c.api, &elasticloadbalancing.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing load balancers: %w", err)
		}
		for i := range page.LoadBalancerDescriptions {
			lb := page.LoadBalancerDescriptions[i]
			if lb.DNSName != nil && strings.EqualFold(*lb.DNSName, dnsName) {
				return &lb, nil
			}
		}
	}
	return nil, nil
}
