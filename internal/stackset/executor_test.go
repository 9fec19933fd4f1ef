package stackset

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/example/stackseed/internal/cfn/cfntest"
	"github.com/example/stackseed/internal/rollout"
)

// A contention error must not resubmit the stale batch: the whole attempt
// reruns, re-reading remote state, and the second derivation only covers
// what is still missing.
func TestContentionRetryRederivesPlan(t *testing.T) {
	var listCalls, createCalls atomic.Int32
	fake := &cfntest.Fake{
		DescribeStackSetFn: func(in *cloudformation.DescribeStackSetInput) (*cloudformation.DescribeStackSetOutput, error) {
			return nil, &cfntypes.StackSetNotFoundException{Message: aws.String("nope")}
		},
		ListStackInstancesFn: func(in *cloudformation.ListStackInstancesInput) (*cloudformation.ListStackInstancesOutput, error) {
			if listCalls.Add(1) == 1 {
				// First attempt sees nothing deployed.
				return &cloudformation.ListStackInstancesOutput{}, nil
			}
			// By the retry, the concurrent operation has landed eu-west-1.
			return &cloudformation.ListStackInstancesOutput{
				Summaries: []cfntypes.StackInstanceSummary{
					{Account: aws.String("111111111111"), Region: aws.String("eu-west-1")},
				},
			}, nil
		},
		DescribeStackInstanceFn: func(in *cloudformation.DescribeStackInstanceInput) (*cloudformation.DescribeStackInstanceOutput, error) {
			return &cloudformation.DescribeStackInstanceOutput{
				StackInstance: &cfntypes.StackInstance{Status: cfntypes.StackInstanceStatusCurrent},
			}, nil
		},
		CreateStackInstancesFn: func(in *cloudformation.CreateStackInstancesInput) (*cloudformation.CreateStackInstancesOutput, error) {
			if createCalls.Add(1) == 1 {
				return nil, &cfntypes.OperationInProgressException{Message: aws.String("another operation is running")}
			}
			return &cloudformation.CreateStackInstancesOutput{}, nil
		},
	}
	c := newTestController(t, fake, Options{
		Name:     "x0-logging",
		Template: TemplateRef{URL: "https://bucket.s3.amazonaws.com/tpl.yaml", Checksum: "abc"},
		Desired: []rollout.Entry{
			{Target: "111111111111", Regions: rollout.NewRegionSet("eu-west-1", "us-east-1")},
		},
	})
	if err := c.Deploy(context.Background()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if got := createCalls.Load(); got != 2 {
		t.Fatalf("CreateStackInstances called %d times, want failed attempt plus retry", got)
	}
	first := fake.CreateStackInstancesInputs[0]
	if !reflect.DeepEqual(first.Regions, []string{"eu-west-1", "us-east-1"}) {
		t.Fatalf("first attempt regions %v", first.Regions)
	}
	second := fake.CreateStackInstancesInputs[1]
	if !reflect.DeepEqual(second.Regions, []string{"us-east-1"}) {
		t.Fatalf("retry regions %v, want only the still-missing us-east-1", second.Regions)
	}
}

func TestRetryPendingPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("access denied")
	c := newTestController(t, &cfntest.Fake{}, Options{Name: "x0-logging"})
	attempts := 0
	err := c.retryPending(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the original error", err)
	}
	if attempts != 1 {
		t.Fatalf("non-contention error retried %d times", attempts)
	}
}

func TestWaitPendingOperationsPollsUntilSettled(t *testing.T) {
	var polls atomic.Int32
	fake := &cfntest.Fake{
		ListStackSetOperationsFn: func(in *cloudformation.ListStackSetOperationsInput) (*cloudformation.ListStackSetOperationsOutput, error) {
			if polls.Add(1) < 3 {
				return &cloudformation.ListStackSetOperationsOutput{
					Summaries: []cfntypes.StackSetOperationSummary{
						{Status: cfntypes.StackSetOperationStatusRunning},
					},
				}, nil
			}
			return &cloudformation.ListStackSetOperationsOutput{
				Summaries: []cfntypes.StackSetOperationSummary{
					{Status: cfntypes.StackSetOperationStatusSucceeded},
				},
			}, nil
		},
	}
	c := newTestController(t, fake, Options{Name: "x0-logging"})
	if err := c.waitPendingOperations(context.Background()); err != nil {
		t.Fatalf("waitPendingOperations: %v", err)
	}
	if got := polls.Load(); got != 3 {
		t.Fatalf("polled %d times, want 3", got)
	}
}

func TestWaitPendingOperationsTreatsNotFoundAsDone(t *testing.T) {
	fake := &cfntest.Fake{
		ListStackSetOperationsFn: func(in *cloudformation.ListStackSetOperationsInput) (*cloudformation.ListStackSetOperationsOutput, error) {
			return nil, &cfntypes.StackSetNotFoundException{Message: aws.String("already gone")}
		},
	}
	c := newTestController(t, fake, Options{Name: "x0-logging"})
	if err := c.waitPendingOperations(context.Background()); err != nil {
		t.Fatalf("waitPendingOperations on a deleted stack set: %v", err)
	}
}

func TestWaitPendingOperationsHonorsCancellation(t *testing.T) {
	fake := &cfntest.Fake{
		ListStackSetOperationsFn: func(in *cloudformation.ListStackSetOperationsInput) (*cloudformation.ListStackSetOperationsOutput, error) {
			return &cloudformation.ListStackSetOperationsOutput{
				Summaries: []cfntypes.StackSetOperationSummary{
					{Status: cfntypes.StackSetOperationStatusRunning},
				},
			}, nil
		},
	}
	c := newTestController(t, fake, Options{Name: "x0-logging"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.waitPendingOperations(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
