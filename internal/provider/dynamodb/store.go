package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/sampleflow/internal/provider"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

const notExists = "attribute_not_exists(PK)"

// GetFileByDigest retrieves the file record for a digest (strongly consistent).
func (p *DynamoDBProvider) GetFileByDigest(ctx context.Context, digest string) (*types.FileRecord, error) {
	var file types.FileRecord
	found, err := p.getData(ctx, filePK(digest), skFile, &file)
	if err != nil || !found {
		return nil, err
	}
	return &file, nil
}

// CreateFile stores a file record if its digest is new.
func (p *DynamoDBProvider) CreateFile(ctx context.Context, file types.FileRecord) error {
	item, err := dataItem(filePK(file.Digest), skFile, file)
	if err != nil {
		return err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &p.tableName,
		Item:                item,
		ConditionExpression: aws.String(notExists),
	})
	if isConditionalCheckFailed(err) {
		return provider.ErrDigestExists
	}
	if err != nil {
		return fmt.Errorf("putting file %s: %w", file.Digest, err)
	}
	return nil
}

// GetReportByFile retrieves the report linked to a file record.
func (p *DynamoDBProvider) GetReportByFile(ctx context.Context, fileID string) (*types.AnalysisReport, error) {
	var report types.AnalysisReport
	found, err := p.getData(ctx, reportPK(fileID), skReport, &report)
	if err != nil || !found {
		return nil, err
	}
	return &report, nil
}

// CreateReport stores an analysis report.
func (p *DynamoDBProvider) CreateReport(ctx context.Context, report types.AnalysisReport) error {
	item, err := dataItem(reportPK(report.FileID), skReport, report)
	if err != nil {
		return err
	}
	if _, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &p.tableName, Item: item}); err != nil {
		return fmt.Errorf("putting report for file %s: %w", report.FileID, err)
	}
	return nil
}

// CreateFileWithReport writes both items in one transaction guarded by the
// file item's absence. Transactions cancelled by a concurrent writer are
// retried until the digest is either stored by someone else or by us.
func (p *DynamoDBProvider) CreateFileWithReport(ctx context.Context, file types.FileRecord, report types.AnalysisReport) error {
	fileItem, err := dataItem(filePK(file.Digest), skFile, file)
	if err != nil {
		return err
	}
	reportItem, err := dataItem(reportPK(report.FileID), skReport, report)
	if err != nil {
		return err
	}
	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName:           &p.tableName,
					Item:                fileItem,
					ConditionExpression: aws.String(notExists),
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &p.tableName,
					Item:      reportItem,
				},
			},
		},
	}

	for attempt := 0; ; attempt++ {
		_, err = p.client.TransactWriteItems(ctx, input)
		if err == nil {
			return nil
		}
		codes := cancellationCodes(err)
		if slices.Contains(codes, "ConditionalCheckFailed") {
			return provider.ErrDigestExists
		}
		if !slices.Contains(codes, "TransactionConflict") || attempt >= maxConflictRetries {
			return fmt.Errorf("storing file %s with report: %w", file.Digest, err)
		}

		existing, lookupErr := p.GetFileByDigest(ctx, file.Digest)
		if lookupErr == nil && existing != nil {
			return provider.ErrDigestExists
		}
		p.logger.Debug("retrying conflicted transaction", "digest", file.Digest, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
}

// PutJob stores a job record with a retention TTL.
func (p *DynamoDBProvider) PutJob(ctx context.Context, job types.Job) error {
	item, err := dataItem(jobPK(job.ID), skJob, job)
	if err != nil {
		return err
	}
	item["status"] = &ddbtypes.AttributeValueMemberS{Value: string(job.Status)}
	item["ttl"] = &ddbtypes.AttributeValueMemberN{Value: ttlEpoch(p.now(), p.jobTTL)}
	if _, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &p.tableName, Item: item}); err != nil {
		return fmt.Errorf("putting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job record.
func (p *DynamoDBProvider) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	found, err := p.getData(ctx, jobPK(id), skJob, &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("job %q: %w", id, provider.ErrNotFound)
	}
	return &job, nil
}

func (p *DynamoDBProvider) getData(ctx context.Context, pk, sk string, dest any) (bool, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key:            itemKey(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("getting %s: %w", pk, err)
	}
	if out.Item == nil {
		return false, nil
	}
	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("unmarshaling %s: %w", pk, err)
	}
	return true, nil
}

// dataItem builds an item that stores v as a JSON "data" attribute.
func dataItem(pk, sk string, v any) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", pk, err)
	}
	item := itemKey(pk, sk)
	item["data"] = &ddbtypes.AttributeValueMemberS{Value: string(data)}
	return item, nil
}

// attributeStr extracts a string attribute from a DynamoDB item.
func attributeStr(item map[string]ddbtypes.AttributeValue, key string) (string, error) {
	av, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	var s string
	if err := attributevalue.Unmarshal(av, &s); err != nil {
		return "", fmt.Errorf("unmarshaling %q: %w", key, err)
	}
	return s, nil
}
