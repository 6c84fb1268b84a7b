// Package dataapi submits statements through the Redshift Data API.
package dataapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
	"github.com/aws/smithy-go"

	"github.com/duckmesh/rsbulk/internal/execution"
)

type Config struct {
	Region        string
	StatementName string
	WithEvent     bool
}

type api interface {
	ExecuteStatement(ctx context.Context, params *redshiftdata.ExecuteStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error)
	DescribeStatement(ctx context.Context, params *redshiftdata.DescribeStatementInput, optFns ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error)
}

type Client struct {
	api           api
	statementName string
	withEvent     bool
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(redshiftdata.NewFromConfig(awsCfg), cfg)
}

func NewWithAPI(a api, cfg Config) (*Client, error) {
	if a == nil {
		return nil, fmt.Errorf("redshift data api client is required")
	}
	return &Client{
		api:           a,
		statementName: strings.TrimSpace(cfg.StatementName),
		withEvent:     cfg.WithEvent,
	}, nil
}

func (c *Client) Submit(ctx context.Context, sql string, creds execution.Credentials) (execution.Handle, error) {
	input := &redshiftdata.ExecuteStatementInput{
		Sql:               aws.String(sql),
		Database:          aws.String(creds.Database),
		ClusterIdentifier: aws.String(creds.ClusterID),
		DbUser:            aws.String(creds.DBUser),
	}
	if c.statementName != "" {
		input.StatementName = aws.String(c.statementName)
	}
	if c.withEvent {
		input.WithEvent = aws.Bool(true)
	}

	out, err := c.api.ExecuteStatement(ctx, input)
	if err != nil {
		return "", &execution.SubmissionError{Err: err}
	}
	id := aws.ToString(out.Id)
	if id == "" {
		return "", &execution.SubmissionError{Err: errors.New("service returned an empty statement id")}
	}
	return execution.Handle(id), nil
}

func (c *Client) Describe(ctx context.Context, handle execution.Handle) (execution.Description, error) {
	out, err := c.api.DescribeStatement(ctx, &redshiftdata.DescribeStatementInput{Id: aws.String(string(handle))})
	if err != nil {
		return execution.Description{}, &execution.DescribeError{Handle: handle, NotFound: isNotFound(err), Err: err}
	}
	desc := execution.Description{
		Handle:     handle,
		Status:     execution.Status(out.Status),
		Duration:   durationFromNanos(out.Duration),
		Error:      aws.ToString(out.Error),
		ResultRows: out.ResultRows,
	}
	if out.UpdatedAt != nil {
		desc.UpdatedAt = out.UpdatedAt.UTC()
	}
	return desc, nil
}

// The Data API reports Duration in nanoseconds and -1 while still running.
func durationFromNanos(value int64) time.Duration {
	if value < 0 {
		return 0
	}
	return time.Duration(value)
}

func isNotFound(err error) bool {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ResourceNotFoundException"
	}
	return false
}
