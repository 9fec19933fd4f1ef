package rollout

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/example/stackseed/internal/cfn/cfntest"
)

func TestAccountReaderLoadGroupsAndPaginates(t *testing.T) {
	fake := &cfntest.Fake{
		ListStackInstancesFn: func(in *cloudformation.ListStackInstancesInput) (*cloudformation.ListStackInstancesOutput, error) {
			if in.NextToken == nil {
				return &cloudformation.ListStackInstancesOutput{
					Summaries: []cfntypes.StackInstanceSummary{
						{Account: aws.String("111111111111"), Region: aws.String("eu-west-1")},
						{Account: aws.String("111111111111"), Region: aws.String("us-east-1")},
					},
					NextToken: aws.String("page2"),
				}, nil
			}
			return &cloudformation.ListStackInstancesOutput{
				Summaries: []cfntypes.StackInstanceSummary{
					{Account: aws.String("222222222222"), Region: aws.String("eu-west-1")},
				},
			}, nil
		},
	}
	reader := NewStateReader(fake, "x0-test", StrategyAccounts, nil)
	state, err := reader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state) != 2 {
		t.Fatalf("got %d targets, want 2", len(state))
	}
	if !state["111111111111"].Equal(NewRegionSet("eu-west-1", "us-east-1")) {
		t.Fatalf("account 1 regions %v", state["111111111111"].Sorted())
	}
	if !state["222222222222"].Equal(NewRegionSet("eu-west-1")) {
		t.Fatalf("account 2 regions %v", state["222222222222"].Sorted())
	}
}

func TestOrgReaderLoadKeysOnOU(t *testing.T) {
	fake := &cfntest.Fake{
		ListStackInstancesFn: func(in *cloudformation.ListStackInstancesInput) (*cloudformation.ListStackInstancesOutput, error) {
			return &cloudformation.ListStackInstancesOutput{
				Summaries: []cfntypes.StackInstanceSummary{
					{OrganizationalUnitId: aws.String("ou-ab12-cdef"), Region: aws.String("eu-west-1")},
					{Account: aws.String("111111111111"), Region: aws.String("eu-west-1")},
				},
			}, nil
		},
	}
	reader := NewStateReader(fake, "x0-test", StrategyOrganization, nil)
	state, err := reader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state) != 1 {
		t.Fatalf("got %d targets, want only the OU-scoped one", len(state))
	}
	if !state["ou-ab12-cdef"].Equal(NewRegionSet("eu-west-1")) {
		t.Fatalf("OU regions %v", state["ou-ab12-cdef"].Sorted())
	}
}

func TestAccountNeedsUpdate(t *testing.T) {
	desired := Override{{Key: "Env", Value: "prod"}, {Key: "Zone", Value: "a"}}
	cases := []struct {
		name      string
		overrides []cfntypes.Parameter
		status    cfntypes.StackInstanceStatus
		want      bool
	}{
		{
			name: "current with permuted equal overrides",
			overrides: []cfntypes.Parameter{
				{ParameterKey: aws.String("Zone"), ParameterValue: aws.String("a")},
				{ParameterKey: aws.String("Env"), ParameterValue: aws.String("prod")},
			},
			status: cfntypes.StackInstanceStatusCurrent,
			want:   false,
		},
		{
			name: "outdated status forces update",
			overrides: []cfntypes.Parameter{
				{ParameterKey: aws.String("Env"), ParameterValue: aws.String("prod")},
				{ParameterKey: aws.String("Zone"), ParameterValue: aws.String("a")},
			},
			status: cfntypes.StackInstanceStatusOutdated,
			want:   true,
		},
		{
			name: "different overrides force update",
			overrides: []cfntypes.Parameter{
				{ParameterKey: aws.String("Env"), ParameterValue: aws.String("test")},
				{ParameterKey: aws.String("Zone"), ParameterValue: aws.String("a")},
			},
			status: cfntypes.StackInstanceStatusCurrent,
			want:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &cfntest.Fake{
				DescribeStackInstanceFn: func(in *cloudformation.DescribeStackInstanceInput) (*cloudformation.DescribeStackInstanceOutput, error) {
					return &cloudformation.DescribeStackInstanceOutput{
						StackInstance: &cfntypes.StackInstance{
							ParameterOverrides: tc.overrides,
							Status:             tc.status,
						},
					}, nil
				},
			}
			reader := NewStateReader(fake, "x0-test", StrategyAccounts, nil)
			got, err := reader.NeedsUpdate(context.Background(), "111111111111", "eu-west-1", desired)
			if err != nil {
				t.Fatalf("NeedsUpdate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("NeedsUpdate=%v want %v", got, tc.want)
			}
		})
	}
}

func TestOrgNeedsUpdateAlwaysTrue(t *testing.T) {
	// No cheap equality check exists for OU-scoped instances; present pairs
	// are always re-submitted as updates.
	fake := &cfntest.Fake{}
	reader := NewStateReader(fake, "x0-test", StrategyOrganization, nil)
	got, err := reader.NeedsUpdate(context.Background(), "ou-ab12-cdef", "eu-west-1", nil)
	if err != nil {
		t.Fatalf("NeedsUpdate: %v", err)
	}
	if !got {
		t.Fatalf("organization NeedsUpdate=false, want constant true")
	}
	if fake.CallCount("DescribeStackInstance") != 0 {
		t.Fatalf("organization NeedsUpdate touched the remote service")
	}
}
