package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/models"
)

type item = map[string]*dynamodb.AttributeValue

// fakeDynamo evaluates the two condition expressions the store emits.
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI
	tables map[string]map[string]item
	err    error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: map[string]map[string]item{"tenancies": {}, "users": {}}}
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	it := f.tables[aws.StringValue(in.TableName)][aws.StringValue(in.Key["id"].S)]
	return &dynamodb.GetItemOutput{Item: it}, nil
}

func (f *fakeDynamo) check(table, id string, cond *string, vals map[string]*dynamodb.AttributeValue) bool {
	cur, ok := f.tables[table][id]
	switch aws.StringValue(cond) {
	case "attribute_not_exists(id)":
		return !ok
	case "#v = :v":
		return ok && aws.StringValue(cur["version"].N) == aws.StringValue(vals[":v"].N)
	}
	return true
}

func (f *fakeDynamo) TransactWriteItemsWithContext(_ aws.Context, in *dynamodb.TransactWriteItemsInput, _ ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	reasons := make([]*dynamodb.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		ok := true
		if p := ti.Put; p != nil {
			ok = f.check(aws.StringValue(p.TableName), aws.StringValue(p.Item["id"].S), p.ConditionExpression, p.ExpressionAttributeValues)
		}
		if d := ti.Delete; d != nil {
			ok = f.check(aws.StringValue(d.TableName), aws.StringValue(d.Key["id"].S), d.ConditionExpression, d.ExpressionAttributeValues)
		}
		code := "None"
		if !ok {
			code, failed = "ConditionalCheckFailed", true
		}
		reasons[i] = &dynamodb.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &dynamodb.TransactionCanceledException{Message_: aws.String("cancelled"), CancellationReasons: reasons}
	}
	for _, ti := range in.TransactItems {
		if p := ti.Put; p != nil {
			f.tables[aws.StringValue(p.TableName)][aws.StringValue(p.Item["id"].S)] = p.Item
		}
		if d := ti.Delete; d != nil {
			delete(f.tables[aws.StringValue(d.TableName)], aws.StringValue(d.Key["id"].S))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func TestDynamo_RoundTripAndVersioning(t *testing.T) {
	ctx := context.Background()
	d := NewDynamo(newFakeDynamo(), "tenancies", "users", nil)

	require.NoError(t, d.Commit(ctx, Changeset{
		PutTenancies: []models.Tenancy{models.NewTenancy("t1", "Acme", "u1", t0)},
		PutUsers:     []models.User{models.NewUser("u1", t0)},
	}))

	got, err := d.GetTenancy(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.EqualValues(t, 1, got.Version)
	assert.True(t, got.Users["u1"].IsAdmin())

	require.NoError(t, d.Commit(ctx, Changeset{PutTenancies: []models.Tenancy{got.Renamed("Acme Ltd", t0)}}))
	err = d.Commit(ctx, Changeset{PutTenancies: []models.Tenancy{got.Renamed("stale", t0)}})
	assert.ErrorIs(t, err, apperr.ErrRetryableConflict)

	now, err := d.GetTenancy(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", now.Name)
	assert.EqualValues(t, 2, now.Version)
}

func TestDynamo_InsertCollision(t *testing.T) {
	ctx := context.Background()
	d := NewDynamo(newFakeDynamo(), "tenancies", "users", nil)
	require.NoError(t, d.Commit(ctx, Changeset{PutTenancies: []models.Tenancy{models.NewTenancy("t1", "Acme", "u1", t0)}}))

	err := d.Commit(ctx, Changeset{PutTenancies: []models.Tenancy{models.NewTenancy("t1", "Dup", "u1", t0)}})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestDynamo_DeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	d := NewDynamo(newFakeDynamo(), "tenancies", "users", nil)
	require.NoError(t, d.Commit(ctx, Changeset{PutTenancies: []models.Tenancy{models.NewTenancy("t1", "Acme", "u1", t0)}}))
	got, _ := d.GetTenancy(ctx, "t1")

	require.NoError(t, d.Commit(ctx, Changeset{DeleteTenancies: []models.Tenancy{got}}))
	_, err := d.GetTenancy(ctx, "t1")
	assert.ErrorIs(t, err, apperr.ErrTenancyNotFound)
	_, err = d.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestDynamo_BackendFailure(t *testing.T) {
	f := newFakeDynamo()
	f.err = errors.New("throttled")
	d := NewDynamo(f, "tenancies", "users", nil)

	_, err := d.GetTenancy(context.Background(), "t1")
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	err = d.Commit(context.Background(), Changeset{PutUsers: []models.User{models.NewUser("u1", t0)}})
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}

func TestDynamo_ChangesetOverTransactLimit(t *testing.T) {
	d := NewDynamo(newFakeDynamo(), "tenancies", "users", nil)
	cs := Changeset{PutTenancies: []models.Tenancy{models.NewTenancy("t1", "Acme", "u0", t0)}}
	for i := range maxTransactItems {
		cs.PutUsers = append(cs.PutUsers, models.NewUser(fmt.Sprintf("u%d", i), t0))
	}

	err := d.Commit(context.Background(), cs)
	require.ErrorIs(t, err, apperr.ErrChangesetTooLarge)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NotErrorIs(t, err, apperr.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, apperr.ErrRetryableConflict)
}
