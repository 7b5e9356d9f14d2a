// pkg/store/dynamo.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.uber.org/zap"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/models"
)

// maxTransactItems is the DynamoDB limit on items per TransactWriteItems.
// Renaming or deleting a tenancy writes every member's user record, so those
// fail with apperr.ErrChangesetTooLarge from 100 members on.
const maxTransactItems = 100

// dynamoRecord is the item shape in both tables.
type dynamoRecord struct {
	ID      string `json:"id"`
	Doc     string `json:"doc"`
	Version int64  `json:"version"`
}

// Dynamo keeps one item per aggregate keyed by id. A changeset is a single
// TransactWriteItems call with a condition per item.
type Dynamo struct {
	api          dynamodbiface.DynamoDBAPI
	tenancyTable string
	userTable    string
	log          *zap.SugaredLogger
}

// NewDynamo constructs a DynamoDB-backed store over the two tables.
func NewDynamo(api dynamodbiface.DynamoDBAPI, tenancyTable, userTable string, log *zap.SugaredLogger) *Dynamo {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dynamo{api: api, tenancyTable: tenancyTable, userTable: userTable, log: log}
}

func (d *Dynamo) load(ctx context.Context, table, id string) (*dynamoRecord, error) {
	out, err := d.api.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.Store("get "+table, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec dynamoRecord
	if err := dynamodbattribute.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, apperr.Store("decode "+table, err)
	}
	return &rec, nil
}

func (d *Dynamo) GetTenancy(ctx context.Context, id string) (models.Tenancy, error) {
	rec, err := d.load(ctx, d.tenancyTable, id)
	if err != nil {
		return models.Tenancy{}, err
	}
	if rec == nil {
		return models.Tenancy{}, fmt.Errorf("get tenancy %s: %w", id, apperr.ErrTenancyNotFound)
	}
	var t models.Tenancy
	if err := json.Unmarshal([]byte(rec.Doc), &t); err != nil {
		return models.Tenancy{}, apperr.Store("decode tenancy", err)
	}
	t.Version = rec.Version
	return t, nil
}

func (d *Dynamo) GetUser(ctx context.Context, id string) (models.User, error) {
	rec, err := d.load(ctx, d.userTable, id)
	if err != nil {
		return models.User{}, err
	}
	if rec == nil {
		return models.User{}, fmt.Errorf("get user %s: %w", id, apperr.ErrUserNotFound)
	}
	var u models.User
	if err := json.Unmarshal([]byte(rec.Doc), &u); err != nil {
		return models.User{}, apperr.Store("decode user", err)
	}
	u.Version = rec.Version
	return u, nil
}

func (d *Dynamo) put(table, id string, v any, version int64) (*dynamodb.TransactWriteItem, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Store("encode "+table, err)
	}
	item, err := dynamodbattribute.MarshalMap(dynamoRecord{ID: id, Doc: string(doc), Version: version + 1})
	if err != nil {
		return nil, apperr.Store("encode "+table, err)
	}
	p := &dynamodb.Put{TableName: aws.String(table), Item: item}
	if version == 0 {
		p.ConditionExpression = aws.String("attribute_not_exists(id)")
	} else {
		p.ConditionExpression = aws.String("#v = :v")
		p.ExpressionAttributeNames = map[string]*string{"#v": aws.String("version")}
		p.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":v": {N: aws.String(strconv.FormatInt(version, 10))},
		}
	}
	return &dynamodb.TransactWriteItem{Put: p}, nil
}

func (d *Dynamo) Commit(ctx context.Context, cs Changeset) error {
	if cs.Empty() {
		return nil
	}
	if cs.Size() > maxTransactItems {
		return fmt.Errorf("commit %d items, limit %d: %w", cs.Size(), maxTransactItems, apperr.ErrChangesetTooLarge)
	}

	var items []*dynamodb.TransactWriteItem
	// inserts[i] records whether items[i] is an insert, for mapping
	// cancellation reasons back to the right error.
	var inserts []bool
	for _, t := range cs.PutTenancies {
		it, err := d.put(d.tenancyTable, t.ID, t, t.Version)
		if err != nil {
			return err
		}
		items, inserts = append(items, it), append(inserts, t.Version == 0)
	}
	for _, t := range cs.DeleteTenancies {
		items = append(items, &dynamodb.TransactWriteItem{Delete: &dynamodb.Delete{
			TableName:                aws.String(d.tenancyTable),
			Key:                      map[string]*dynamodb.AttributeValue{"id": {S: aws.String(t.ID)}},
			ConditionExpression:      aws.String("#v = :v"),
			ExpressionAttributeNames: map[string]*string{"#v": aws.String("version")},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":v": {N: aws.String(strconv.FormatInt(t.Version, 10))},
			},
		}})
		inserts = append(inserts, false)
	}
	for _, u := range cs.PutUsers {
		it, err := d.put(d.userTable, u.ID, u, u.Version)
		if err != nil {
			return err
		}
		items, inserts = append(items, it), append(inserts, u.Version == 0)
	}

	_, err := d.api.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return transactError(err, inserts)
	}
	d.log.Debugw("dynamodb commit", "records", len(items))
	return nil
}

// transactError maps a cancelled transaction onto the store's conflict
// errors. Any other failure is a backend failure.
func transactError(err error, inserts []bool) error {
	var tce *dynamodb.TransactionCanceledException
	if !errors.As(err, &tce) {
		return apperr.Store("commit", err)
	}
	conflict := false
	for i, r := range tce.CancellationReasons {
		if r == nil || aws.StringValue(r.Code) != "ConditionalCheckFailed" {
			continue
		}
		if i < len(inserts) && inserts[i] {
			return fmt.Errorf("commit: %w", apperr.ErrAlreadyExists)
		}
		conflict = true
	}
	if conflict {
		return fmt.Errorf("commit: %w", apperr.ErrRetryableConflict)
	}
	for _, r := range tce.CancellationReasons {
		if r != nil && aws.StringValue(r.Code) == "TransactionConflict" {
			return fmt.Errorf("commit: %w", apperr.ErrRetryableConflict)
		}
	}
	return apperr.Store("commit", err)
}
