package statestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/logger"
)

// S3Client is the subset of the S3 API the store uses.
type S3Client interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DynamoDBClient is the subset of the DynamoDB API the store uses.
type DynamoDBClient interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// AWS stores state in S3 and leases in a DynamoDB lock table. The lease is
// a conditional put on the LockID hash key, matching the lock protocol of
// the provisioning engine's own s3 backend.
type AWS struct {
	s3           S3Client
	db           DynamoDBClient
	pollInterval time.Duration
	log          *logrus.Entry
}

func NewAWS(cfg aws.Config) *AWS {
	return &AWS{
		s3:           s3.NewFromConfig(cfg),
		db:           dynamodb.NewFromConfig(cfg),
		pollInterval: 2 * time.Second,
		log:          logger.WithModule("statestore.aws"),
	}
}

// NewAWSWithClients injects raw clients, for tests.
func NewAWSWithClients(s3c S3Client, dbc DynamoDBClient, pollInterval time.Duration) *AWS {
	return &AWS{s3: s3c, db: dbc, pollInterval: pollInterval, log: logger.WithModule("statestore.aws")}
}

// EnsureBackend creates the state bucket and lock table if absent.
// Already-exists errors are expected on re-entry and swallowed.
func (a *AWS) EnsureBackend(ctx context.Context, b backend.Config) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(b.Bucket)}
	// us-east-1 rejects an explicit location constraint
	if b.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.Region),
		}
	}
	if _, err := a.s3.CreateBucket(ctx, input); err != nil && !bucketExists(err) {
		return &BackendError{Op: "create bucket", Err: err}
	}

	if _, err := a.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(b.Bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	}); err != nil {
		return &BackendError{Op: "enable versioning", Err: err}
	}

	if _, err := a.s3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(b.Bucket),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		},
	}); err != nil {
		return &BackendError{Op: "enable encryption", Err: err}
	}

	_, err := a.db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(b.LockTable),
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String("LockID"), KeyType: dbtypes.KeyTypeHash},
		},
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String("LockID"), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		BillingMode: dbtypes.BillingModePayPerRequest,
	})
	var inUse *dbtypes.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return &BackendError{Op: "create lock table", Err: err}
	}

	a.log.WithFields(logrus.Fields{
		"bucket":     b.Bucket,
		"lock_table": b.LockTable,
	}).Debug("Backend ready")
	return nil
}

func (a *AWS) ReadState(ctx context.Context, b backend.Config) ([]byte, error) {
	out, err := a.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.Key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrStateNotFound
		}
		return nil, &BackendError{Op: "read state", Err: err}
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &BackendError{Op: "read state body", Err: err}
	}
	return blob, nil
}

func (a *AWS) WriteState(ctx context.Context, b backend.Config, blob []byte) error {
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.Key),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return &BackendError{Op: "write state", Err: err}
	}
	return nil
}

// AcquireLock takes the lease via a conditional put and polls until the
// wait bound. A held lease surfaces as ConditionalCheckFailed; anything
// else is fatal.
func (a *AWS) AcquireLock(ctx context.Context, b backend.Config, timeout time.Duration) (*Lease, error) {
	key := b.LockKey()
	id := uuid.New().String()
	deadline := time.Now().Add(timeout)

	for {
		_, err := a.db.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(b.LockTable),
			Item: map[string]dbtypes.AttributeValue{
				"LockID":    &dbtypes.AttributeValueMemberS{Value: key},
				"LeaseID":   &dbtypes.AttributeValueMemberS{Value: id},
				"CreatedAt": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
			ConditionExpression: aws.String("attribute_not_exists(LockID)"),
		})
		if err == nil {
			return &Lease{ID: id, Key: key, AcquiredAt: time.Now(), table: b.LockTable}, nil
		}

		var conflict *dbtypes.ConditionalCheckFailedException
		if !errors.As(err, &conflict) {
			return nil, &BackendError{Op: "acquire lock", Err: err}
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		a.log.WithField("lock_key", key).Debug("Lock held by another run, waiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *AWS) ReleaseLock(ctx context.Context, lease *Lease) error {
	_, err := a.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(lease.table),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: lease.Key},
		},
		ConditionExpression: aws.String("LeaseID = :id"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":id": &dbtypes.AttributeValueMemberS{Value: lease.ID},
		},
	})
	if err != nil {
		return &BackendError{Op: "release lock", Err: err}
	}
	return nil
}

func bucketExists(err error) bool {
	var owned *s3types.BucketAlreadyOwnedByYou
	var exists *s3types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}
