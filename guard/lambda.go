package guard

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
)

// LambdaInvoker launches relay invocations through the AWS Lambda API.
// The function's execution role needs lambda:InvokeFunction on itself.
type LambdaInvoker struct {
	api lambdaiface.LambdaAPI
}

// NewLambdaInvoker constructs an invoker on top of a Lambda API client.
func NewLambdaInvoker(api lambdaiface.LambdaAPI) *LambdaInvoker {
	return &LambdaInvoker{api: api}
}

// Invoke fires an asynchronous (Event type) invocation and returns once
// the invocation has been accepted.
func (i *LambdaInvoker) Invoke(ctx context.Context, function string, payload []byte) error {
	_, err := i.api.InvokeWithContext(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: aws.String(lambda.InvocationTypeEvent),
		Payload:        payload,
	})
	return err
}
