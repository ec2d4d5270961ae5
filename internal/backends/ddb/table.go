package ddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	SSession    = "SESSION"
	SCredential = "CREDENTIAL"
)

func pkSession(id string) string { return fmt.Sprintf("%s#%s", SSession, id) }
func skCredential() string       { return SCredential }

func parseSessionID(pk string) (string, error) {
	var id string
	_, err := fmt.Sscanf(pk, "SESSION#%s", &id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// createTableIfNotExists creates the single-table layout (PK/SK strings).
// An existing table is not an error.
func createTableIfNotExists(ctx context.Context, client API, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		log.WithError(err).WithField("table", table).Error("failed to create table")
		return err
	}
	return nil
}

