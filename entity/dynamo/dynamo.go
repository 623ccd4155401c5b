// Package dynamo provides an entity.Store backed by AWS DynamoDB. Each entity
// is its own table, keyed by a string "id" partition key, and named with an
// optional prefix.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// API is the subset of the DynamoDB client that Store uses. *sdk.Client
// satisfies it.
type API interface {
	GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Scan(ctx context.Context, params *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *sdk.BatchWriteItemInput, optFns ...func(*sdk.Options)) (*sdk.BatchWriteItemOutput, error)
}

// Store is an entity.Store over DynamoDB tables.
type Store struct {
	client API
	prefix string

	mtx    sync.Mutex
	tables map[string]*Table
}

// New returns a Store that uses client. Table names are the entity name with
// prefix prepended.
func New(client API, prefix string) *Store {
	return &Store{client: client, prefix: prefix, tables: map[string]*Table{}}
}

// NewFromConfig builds a DynamoDB client from the region, endpoint and
// credentials in db and returns a Store for it. Credentials not given in db
// are taken from the default AWS chain.
func NewFromConfig(ctx context.Context, db grantdesk.DatabaseConfig) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if db.Region != "" {
		opts = append(opts, config.WithRegion(db.Region))
	}
	if db.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(db.AccessKeyID, db.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	client := sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if db.Endpoint != "" {
			o.BaseEndpoint = aws.String(db.Endpoint)
		}
	})

	return New(client, db.TablePrefix), nil
}

func (s *Store) Entity(name string) entity.Repo {
	if err := entity.ValidateName(name); err != nil {
		return entity.Invalid(name, err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	t, ok := s.tables[name]
	if !ok {
		t = &Table{Client: s.client, Entity: name, TableName: s.prefix + name}
		s.tables[name] = t
	}
	return t
}

// Close does nothing; the DynamoDB client holds no resources that need
// releasing.
func (s *Store) Close() error {
	return nil
}

func wrapErr(err error, table, verb string) error {
	var condErr *types.ConditionalCheckFailedException
	var missingErr *types.ResourceNotFoundException
	switch {
	case errors.As(err, &condErr):
		if verb == "create" {
			err = grantdesk.NewError("", err, grantdesk.ErrAlreadyExists, grantdesk.ErrConstraintViolation)
		} else {
			err = grantdesk.NewError("", err, grantdesk.ErrNotFound)
		}
	case errors.As(err, &missingErr):
		err = grantdesk.NewError("", err, grantdesk.ErrNotFound)
	}
	return grantdesk.WrapDBErrorf(err, "%s: %s", table, verb)
}

// toItem converts a record into a DynamoDB item.
func toItem(rec entity.Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]interface{}(rec))
	if err != nil {
		return nil, grantdesk.NewError(fmt.Sprintf("encode record: %v", err), grantdesk.ErrBadArgument)
	}
	return item, nil
}

// fromItem converts a DynamoDB item into a record. Numbers come back as int64
// when integral and float64 otherwise.
func fromItem(item map[string]types.AttributeValue) (entity.Record, error) {
	var m map[string]interface{}
	err := attributevalue.UnmarshalMapWithOptions(item, &m, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, grantdesk.NewError(err.Error(), err, grantdesk.ErrDecodingFailure)
	}

	rec := make(entity.Record, len(m))
	for k, v := range m {
		rec[k] = fromNumbers(v)
	}
	return rec, nil
}

func fromNumbers(v interface{}) interface{} {
	switch typed := v.(type) {
	case attributevalue.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		f, _ := typed.Float64()
		return f
	case map[string]interface{}:
		for k := range typed {
			typed[k] = fromNumbers(typed[k])
		}
		return typed
	case []interface{}:
		for i := range typed {
			typed[i] = fromNumbers(typed[i])
		}
		return typed
	default:
		return v
	}
}
