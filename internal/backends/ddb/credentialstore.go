package ddb

import (
	"context"
	"tether/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// CredentialStore keeps one credential item per session under
// PK=SESSION#<id>, SK=CREDENTIAL.
type CredentialStore struct {
	table   string
	session string
	cli     API
}

type credentialItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.Credential
}

// NewCredentialStore creates the table when it does not exist yet.
func NewCredentialStore(ctx context.Context, table, session string, cli API) (*CredentialStore, error) {
	if err := createTableIfNotExists(ctx, cli, table); err != nil {
		return nil, err
	}
	return &CredentialStore{table: table, session: session, cli: cli}, nil
}

func (s *CredentialStore) key() map[string]ddbTypes.AttributeValue {
	return map[string]ddbTypes.AttributeValue{
		"PK": &ddbTypes.AttributeValueMemberS{Value: pkSession(s.session)},
		"SK": &ddbTypes.AttributeValueMemberS{Value: skCredential()},
	}
}

func (s *CredentialStore) Get(ctx context.Context) (types.Credential, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            s.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return types.Credential{}, types.Err(types.ErrDataStoreAccess, err, "")
	}
	if out.Item == nil {
		return types.Credential{}, nil
	}
	var item credentialItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return types.Credential{}, types.Err(types.ErrDataStoreAccess, err, "decode credential for session %s", s.session)
	}
	return item.Credential, nil
}

func (s *CredentialStore) Set(ctx context.Context, cred types.Credential) error {
	item, err := attributevalue.MarshalMap(credentialItem{
		PK:         pkSession(s.session),
		SK:         skCredential(),
		Credential: cred,
	})
	if err != nil {
		return err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      item,
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       s.key(),
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}
