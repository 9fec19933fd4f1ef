// Package cfntest provides a scriptable in-memory stand-in for the
// CloudFormation API slice the engine uses.
package cfntest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
)

// Fake implements cfn.API. Each call dispatches to the matching function
// field when set and falls back to an empty success otherwise. Every call
// is recorded: the name in Calls, the input in the per-call input slice.
type Fake struct {
	mu    sync.Mutex
	Calls []string

	DescribeStackSetFn       func(*cloudformation.DescribeStackSetInput) (*cloudformation.DescribeStackSetOutput, error)
	CreateStackSetFn         func(*cloudformation.CreateStackSetInput) (*cloudformation.CreateStackSetOutput, error)
	UpdateStackSetFn         func(*cloudformation.UpdateStackSetInput) (*cloudformation.UpdateStackSetOutput, error)
	DeleteStackSetFn         func(*cloudformation.DeleteStackSetInput) (*cloudformation.DeleteStackSetOutput, error)
	ListStackInstancesFn     func(*cloudformation.ListStackInstancesInput) (*cloudformation.ListStackInstancesOutput, error)
	DescribeStackInstanceFn  func(*cloudformation.DescribeStackInstanceInput) (*cloudformation.DescribeStackInstanceOutput, error)
	CreateStackInstancesFn   func(*cloudformation.CreateStackInstancesInput) (*cloudformation.CreateStackInstancesOutput, error)
	UpdateStackInstancesFn   func(*cloudformation.UpdateStackInstancesInput) (*cloudformation.UpdateStackInstancesOutput, error)
	DeleteStackInstancesFn   func(*cloudformation.DeleteStackInstancesInput) (*cloudformation.DeleteStackInstancesOutput, error)
	ListStackSetOperationsFn func(*cloudformation.ListStackSetOperationsInput) (*cloudformation.ListStackSetOperationsOutput, error)

	CreateStackSetInputs       []*cloudformation.CreateStackSetInput
	UpdateStackSetInputs       []*cloudformation.UpdateStackSetInput
	DeleteStackSetInputs       []*cloudformation.DeleteStackSetInput
	CreateStackInstancesInputs []*cloudformation.CreateStackInstancesInput
	UpdateStackInstancesInputs []*cloudformation.UpdateStackInstancesInput
	DeleteStackInstancesInputs []*cloudformation.DeleteStackInstancesInput
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, name)
}

// CallCount returns how many times the named call was issued.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *Fake) DescribeStackSet(ctx context.Context, in *cloudformation.DescribeStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOutput, error) {
	f.record("DescribeStackSet")
	if f.DescribeStackSetFn != nil {
		return f.DescribeStackSetFn(in)
	}
	return &cloudformation.DescribeStackSetOutput{}, nil
}

func (f *Fake) CreateStackSet(ctx context.Context, in *cloudformation.CreateStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackSetOutput, error) {
	f.record("CreateStackSet")
	f.mu.Lock()
	f.CreateStackSetInputs = append(f.CreateStackSetInputs, in)
	f.mu.Unlock()
	if f.CreateStackSetFn != nil {
		return f.CreateStackSetFn(in)
	}
	return &cloudformation.CreateStackSetOutput{}, nil
}

func (f *Fake) UpdateStackSet(ctx context.Context, in *cloudformation.UpdateStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackSetOutput, error) {
	f.record("UpdateStackSet")
	f.mu.Lock()
	f.UpdateStackSetInputs = append(f.UpdateStackSetInputs, in)
	f.mu.Unlock()
	if f.UpdateStackSetFn != nil {
		return f.UpdateStackSetFn(in)
	}
	return &cloudformation.UpdateStackSetOutput{}, nil
}

func (f *Fake) DeleteStackSet(ctx context.Context, in *cloudformation.DeleteStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackSetOutput, error) {
	f.record("DeleteStackSet")
	f.mu.Lock()
	f.DeleteStackSetInputs = append(f.DeleteStackSetInputs, in)
	f.mu.Unlock()
	if f.DeleteStackSetFn != nil {
		return f.DeleteStackSetFn(in)
	}
	return &cloudformation.DeleteStackSetOutput{}, nil
}

func (f *Fake) ListStackInstances(ctx context.Context, in *cloudformation.ListStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackInstancesOutput, error) {
	f.record("ListStackInstances")
	if f.ListStackInstancesFn != nil {
		return f.ListStackInstancesFn(in)
	}
	return &cloudformation.ListStackInstancesOutput{}, nil
}

func (f *Fake) DescribeStackInstance(ctx context.Context, in *cloudformation.DescribeStackInstanceInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackInstanceOutput, error) {
	f.record("DescribeStackInstance")
	if f.DescribeStackInstanceFn != nil {
		return f.DescribeStackInstanceFn(in)
	}
	return &cloudformation.DescribeStackInstanceOutput{}, nil
}

func (f *Fake) CreateStackInstances(ctx context.Context, in *cloudformation.CreateStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackInstancesOutput, error) {
	f.record("CreateStackInstances")
	f.mu.Lock()
	f.CreateStackInstancesInputs = append(f.CreateStackInstancesInputs, in)
	f.mu.Unlock()
	if f.CreateStackInstancesFn != nil {
		return f.CreateStackInstancesFn(in)
	}
	return &cloudformation.CreateStackInstancesOutput{}, nil
}

func (f *Fake) UpdateStackInstances(ctx context.Context, in *cloudformation.UpdateStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackInstancesOutput, error) {
	f.record("UpdateStackInstances")
	f.mu.Lock()
	f.UpdateStackInstancesInputs = append(f.UpdateStackInstancesInputs, in)
	f.mu.Unlock()
	if f.UpdateStackInstancesFn != nil {
		return f.UpdateStackInstancesFn(in)
	}
	return &cloudformation.UpdateStackInstancesOutput{}, nil
}

func (f *Fake) DeleteStackInstances(ctx context.Context, in *cloudformation.DeleteStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackInstancesOutput, error) {
	f.record("DeleteStackInstances")
	f.mu.Lock()
	f.DeleteStackInstancesInputs = append(f.DeleteStackInstancesInputs, in)
	f.mu.Unlock()
	if f.DeleteStackInstancesFn != nil {
		return f.DeleteStackInstancesFn(in)
	}
	return &cloudformation.DeleteStackInstancesOutput{}, nil
}

func (f *Fake) ListStackSetOperations(ctx context.Context, in *cloudformation.ListStackSetOperationsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackSetOperationsOutput, error) {
	f.record("ListStackSetOperations")
	if f.ListStackSetOperationsFn != nil {
		return f.ListStackSetOperationsFn(in)
	}
	return &cloudformation.ListStackSetOperationsOutput{}, nil
}
