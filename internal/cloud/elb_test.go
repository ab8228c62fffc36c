package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeELBAPI serves DescribeLoadBalancers pages from a canned set.
type fakeELBAPI struct {
	pages [][]elbtypes.LoadBalancerDescription
	err   error
	calls int
}

func (f *fakeELBAPI) DescribeLoadBalancers(_ context.Context, input *elasticloadbalancing.DescribeLoadBalancersInput, _ ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeLoadBalancersOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := 0
	if input.Marker != nil {
		page = f.calls
	}
	f.calls++
	out := &elasticloadbalancing.DescribeLoadBalancersOutput{
		LoadBalancerDescriptions: f.pages[page],
	}
	if page < len(f.pages)-1 {
		out.NextMarker = aws.String("next")
	}
	return out, nil
}

func TestFindLoadBalancerByDNSName(t *testing.T) {
	api := &fakeELBAPI{pages: [][]elbtypes.LoadBalancerDescription{
		{
			{LoadBalancerName: aws.String("lb-a"), DNSName: aws.String("a.elb.amazonaws.com")},
		},
		{
			{LoadBalancerName: aws.String("lb-b"), DNSName: aws.String("b.elb.amazonaws.com")},
		},
	}}
	c := NewELBClientFromAPI(api)

	lb, err := c.FindLoadBalancerByDNSName(context.Background(), "B.ELB.AMAZONAWS.COM")

	require.NoError(t, err)
	require.NotNil(t, lb)
	assert.Equal(t, "lb-b", *lb.LoadBalancerName)
	assert.Equal(t, 2, api.calls)
}

func TestFindLoadBalancerByDNSNameAbsent(t *testing.T) {
	api := &fakeELBAPI{pages: [][]elbtypes.LoadBalancerDescription{
		{
			{LoadBalancerName: aws.String("lb-a"), DNSName: aws.String("a.elb.amazonaws.com")},
		},
	}}
	c := NewELBClientFromAPI(api)

	lb, err := c.FindLoadBalancerByDNSName(context.Background(), "missing.elb.amazonaws.com")

	require.NoError(t, err)
	assert.Nil(t, lb)
}

func TestFindLoadBalancerByDNSNameError(t *testing.T) {
	api := &fakeELBAPI{err: errors.New("throttled")}
	c := NewELBClientFromAPI(api)

	_, err := c.FindLoadBalancerByDNSName(context.Background(), "a.elb.amazonaws.com")

	assert.ErrorContains(t, err, "describing load balancers")
}

func TestLoadAWSConfigRequiresRegion(t *testing.T) {
	_, err := LoadAWSConfig(context.Background(), AWSConfig{})

	assert.ErrorContains(t, err, "region is required")
}
