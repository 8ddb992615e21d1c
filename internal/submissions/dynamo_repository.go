package submissions

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// dynamoTimeLayout is fixed width so string comparison in filter
// expressions follows time order.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDynamoTime(t time.Time) string {
	return t.UTC().Format(dynamoTimeLayout)
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoRecord is the persisted item layout.
type dynamoRecord struct {
	ID                    string `dynamodbav:"id"`
	Name                  string `dynamodbav:"name"`
	Phone                 string `dynamodbav:"phone"`
	Product               string `dynamodbav:"product"`
	Consent               bool   `dynamodbav:"consent"`
	SubmittedAt           string `dynamodbav:"submittedAt"`
	NotificationState     string `dynamodbav:"notificationState"`
	NotificationUpdatedAt string `dynamodbav:"notificationUpdatedAt,omitempty"`
}

func (r dynamoRecord) submission() (*Submission, error) {
	submittedAt, err := time.Parse(time.RFC3339Nano, r.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("submissions: bad submittedAt %q: %w", r.SubmittedAt, err)
	}
	sub := &Submission{
		ID:                r.ID,
		Name:              r.Name,
		Phone:             r.Phone,
		Product:           r.Product,
		Consent:           r.Consent,
		SubmittedAt:       submittedAt,
		NotificationState: NotificationState(r.NotificationState),
	}
	if r.NotificationUpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, r.NotificationUpdatedAt); err == nil {
			sub.NotificationUpdatedAt = &ts
		}
	}
	return sub, nil
}

// DynamoRepository persists submissions to a DynamoDB table keyed by id.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Repository = (*DynamoRepository)(nil)

// NewDynamoRepository builds a store backed by the provided DynamoDB client.
func NewDynamoRepository(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRepository {
	if client == nil {
		panic("submissions: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("submissions: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRepository{client: client, tableName: tableName, logger: logger}
}

// Insert writes one item guarded by attribute_not_exists(id).
func (s *DynamoRepository) Insert(ctx context.Context, a Accepted) (*Submission, error) {
	now := time.Now().UTC()
	record := dynamoRecord{
		ID:                uuid.New().String(),
		Name:              a.Name,
		Phone:             a.Phone,
		Product:           a.Product,
		Consent:           a.Consent,
		SubmittedAt:       formatDynamoTime(now),
		NotificationState: string(InitialState(a.Consent)),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, &StoreError{Kind: Unavailable, Op: "insert", Err: fmt.Errorf("marshal: %w", err)}
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return nil, classifyDynamoError("insert", err)
	}
	return record.submission()
}

// UpdateNotificationState applies a legal transition with a conditional update.
func (s *DynamoRepository) UpdateNotificationState(ctx context.Context, id string, state NotificationState) error {
	if id == "" {
		return ErrSubmissionNotFound
	}
	if !state.Valid() {
		return errInvalidTransition("update notification state", "", state)
	}

	values := map[string]types.AttributeValue{
		":state": &types.AttributeValueMemberS{Value: string(state)},
	}
	update := "SET #state = :state"
	condition := "attribute_exists(id) AND #state = :state"
	if state == NotificationSent || state == NotificationFailed {
		values[":pending"] = &types.AttributeValueMemberS{Value: string(NotificationPending)}
		values[":updated"] = &types.AttributeValueMemberS{Value: formatDynamoTime(time.Now())}
		update = "SET #state = :state, notificationUpdatedAt = :updated"
		condition = "attribute_exists(id) AND #state IN (:pending, :state)"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            map[string]string{"#state": "notificationState"},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if len(condErr.Item) == 0 {
			return ErrSubmissionNotFound
		}
		var current dynamoRecord
		if uerr := attributevalue.UnmarshalMap(condErr.Item, &current); uerr != nil {
			return &StoreError{Kind: Unavailable, Op: "update notification state", Err: uerr}
		}
		return errInvalidTransition("update notification state", NotificationState(current.NotificationState), state)
	}
	return classifyDynamoError("update notification state", err)
}

// GetByID fetches a submission by id.
func (s *DynamoRepository) GetByID(ctx context.Context, id string) (*Submission, error) {
	if id == "" {
		return nil, ErrSubmissionNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classifyDynamoError("select", err)
	}
	if out.Item == nil {
		return nil, ErrSubmissionNotFound
	}
	var record dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, &StoreError{Kind: Unavailable, Op: "select", Err: fmt.Errorf("decode: %w", err)}
	}
	return record.submission()
}

// ListPending scans for Pending items older than before. The table is small
// enough that a filtered scan is acceptable for the sweeper.
func (s *DynamoRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*Submission, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("#state = :pending AND submittedAt < :before"),
		ExpressionAttributeNames: map[string]string{
			"#state": "notificationState",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(NotificationPending)},
			":before":  &types.AttributeValueMemberS{Value: formatDynamoTime(before)},
		},
	}

	var out []*Submission
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, classifyDynamoError("list pending", err)
		}
		for _, item := range page.Items {
			var record dynamoRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				s.logger.Warn("skipping undecodable submission item", "error", err)
				continue
			}
			sub, err := record.submission()
			if err != nil {
				s.logger.Warn("skipping submission with bad timestamp", "id", record.ID, "error", err)
				continue
			}
			out = append(out, sub)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func classifyDynamoError(op string, err error) error {
	kind := Unavailable

	var condErr *types.ConditionalCheckFailedException
	var netErr net.Error
	switch {
	case errors.As(err, &condErr):
		kind = ConstraintViolation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = Unavailable
	case errors.As(err, &netErr):
		if !netErr.Timeout() {
			kind = ConnectionFailed
		}
	}
	return &StoreError{Kind: kind, Op: op, Err: fmt.Errorf("dynamodb: %w", err)}
}
