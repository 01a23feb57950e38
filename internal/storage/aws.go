package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/meridian/chat-insights/internal/config"
	"github.com/meridian/chat-insights/internal/domain"
)

// AWSArchive provides AWS-backed report storage using DynamoDB and S3.
// S3 holds the full report document; DynamoDB holds one index item per
// run so reports can be listed by mode without scanning the bucket.
type AWSArchive struct {
	dynamoDB  *dynamodb.Client
	s3Client  *s3.Client
	tableName string
	bucket    string
	region    string
}

// DynamoDBItem represents a run index item stored in DynamoDB.
type DynamoDBItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	RunID     string `dynamodbav:"RunID"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

// NewAWSArchive creates a new AWS archive instance. Static credentials
// from the config take precedence; otherwise a shared profile is used
// when set, falling back to the default credential chain (IAM role).
func NewAWSArchive(ctx context.Context, cfg config.StorageConfig) (*AWSArchive, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}

	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	case cfg.GetAWSProfile() != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.GetAWSProfile()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &AWSArchive{
		dynamoDB:  dynamodb.NewFromConfig(awsCfg),
		s3Client:  s3.NewFromConfig(awsCfg),
		tableName: cfg.DynamoDBTable,
		bucket:    cfg.S3Bucket,
		region:    cfg.AWSRegion,
	}, nil
}

// runKey is the S3 object key for a run report document.
func runKey(runID string) string {
	return fmt.Sprintf("runs/%s.json", runID)
}

// runPartition is the DynamoDB partition key for a run mode.
func runPartition(mode domain.RunMode) string {
	return fmt.Sprintf("RUN#%s", mode)
}

// SaveRunReport writes the full report to S3 and an index item to
// DynamoDB keyed by mode and start time.
func (s *AWSArchive) SaveRunReport(ctx context.Context, report *domain.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run report: %w", err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(runKey(report.RunID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting run report to S3: %w", err)
	}

	item := DynamoDBItem{
		PK:        runPartition(report.Mode),
		SK:        report.StartedAt.UTC().Format(time.RFC3339),
		RunID:     report.RunID,
		Data:      string(data),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TTL:       time.Now().Add(90 * 24 * time.Hour).Unix(), // 90 day TTL
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return nil
}

// GetRunReport retrieves a run report document from S3.
func (s *AWSArchive) GetRunReport(ctx context.Context, runID string) (*domain.RunReport, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(runKey(runID)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting run report from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshaling run report: %w", err)
	}

	return &report, nil
}

// ListRunReports queries the DynamoDB index, most recent first. An empty
// mode lists both daily and backfill runs.
func (s *AWSArchive) ListRunReports(ctx context.Context, mode domain.RunMode, limit int) ([]*domain.RunReport, error) {
	modes := []domain.RunMode{mode}
	if mode == "" {
		modes = []domain.RunMode{domain.RunDaily, domain.RunBackfill}
	}

	var reports []*domain.RunReport
	for _, m := range modes {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: runPartition(m)},
			},
			ScanIndexForward: aws.Bool(false), // Most recent first
		}
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit))
		}

		result, err := s.dynamoDB.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying run reports from DynamoDB: %w", err)
		}

		for _, item := range result.Items {
			var dbItem DynamoDBItem
			if err := attributevalue.UnmarshalMap(item, &dbItem); err != nil {
				continue
			}
			var report domain.RunReport
			if err := json.Unmarshal([]byte(dbItem.Data), &report); err != nil {
				continue
			}
			reports = append(reports, &report)
		}
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})

	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
