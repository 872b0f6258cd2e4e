package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/chillspot/chillspot-api/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fakeDynamo keeps tables in memory and understands the condition
// expressions the store sends.
type fakeDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	order    map[string][]string
	pageSize int
	scans    int
	batches  int
	stuck    bool
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables:   map[string]map[string]map[string]types.AttributeValue{},
		order:    map[string][]string{},
		pageSize: 2,
	}
}

func keyOf(m map[string]types.AttributeValue) string {
	return m["id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	table := aws.ToString(in.TableName)
	ids := f.order[table]
	start := 0
	if in.ExclusiveStartKey != nil {
		last := keyOf(in.ExclusiveStartKey)
		for i, id := range ids {
			if id == last {
				start = i + 1
			}
		}
	}

	out := &dynamodb.ScanOutput{}
	end := min(start+f.pageSize, len(ids))
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, f.tables[table][id])
	}
	if end < len(ids) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: ids[end-1]}}
	}
	return out, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := aws.ToString(in.TableName)
	if f.tables[table] == nil {
		f.tables[table] = map[string]map[string]types.AttributeValue{}
	}
	id := keyOf(in.Item)
	existing, exists := f.tables[table][id]

	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(id)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "#v = :v":
		want := in.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value
		if !exists || existing["version"].(*types.AttributeValueMemberN).Value != want {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
		}
	}

	if !exists {
		f.order[table] = append(f.order[table], id)
	}
	f.tables[table][id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) remove(table, id string) {
	delete(f.tables[table], id)
	ids := f.order[table]
	for i, v := range ids {
		if v == id {
			f.order[table] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(aws.ToString(in.TableName), keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// BatchWriteItem leaves the last request of every first call unprocessed, or
// of every call when stuck.
func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, requests := range in.RequestItems {
		if len(requests) > batchSize {
			return nil, fmt.Errorf("too many requests: %d", len(requests))
		}
		process := requests
		if f.stuck || (f.batches%2 == 1 && len(requests) > 1) {
			process = requests[:len(requests)-1]
			out.UnprocessedItems[table] = requests[len(requests)-1:]
		}
		for _, r := range process {
			f.remove(table, keyOf(r.DeleteRequest.Key))
		}
	}
	if len(out.UnprocessedItems) == 0 {
		out.UnprocessedItems = nil
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := aws.ToString(in.TableName)
	if _, ok := f.tables[table]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("missing")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[aws.ToString(in.TableName)] = map[string]map[string]types.AttributeValue{}
	return &dynamodb.CreateTableOutput{}, nil
}

type story struct {
	ID     bson.ObjectID `bson:"_id,omitempty"`
	Title  string        `bson:"title"`
	Slug   string        `bson:"slug"`
	Views  int           `bson:"views"`
	Tags   []string      `bson:"tags"`
	Author bson.ObjectID `bson:"author"`
}

func newStories(t *testing.T, api *fakeDynamo, opts ...Option) (*Database, *store.Repository[story]) {
	t.Helper()
	db := New(api, "test-", opts...)
	require.NoError(t, db.EnsureTables(context.Background(), "stories", "users"))
	return db, store.NewRepository[story](db.Collection("stories"))
}

func TestEnsureTables(t *testing.T) {
	api := newFakeDynamo()
	db := New(api, "test-")

	require.Error(t, db.Ping(context.Background()))
	require.NoError(t, db.EnsureTables(context.Background(), "users"))
	assert.NoError(t, db.Ping(context.Background()))
	assert.Contains(t, api.tables, "test-users")
}

func TestCollection_CRUDAcrossPages(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	_, repo := newStories(t, api)

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, &story{Title: "t" + strconv.Itoa(i), Views: i, Tags: []string{"travel"}})
		require.NoError(t, err)
	}

	all, err := repo.Find(ctx, store.All(), store.FindOptions{Sort: []store.SortField{store.Desc("views")}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{4, 3, 2}, []int{all[0].Views, all[1].Views, all[2].Views})

	n, err := repo.Count(ctx, store.Eq("tags", "travel"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	updated, err := repo.UpdateOne(ctx, store.Eq("title", "t1"), store.NewUpdate().Inc("views", 10), store.UpdateOptions{})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 11, updated.Views)

	again, err := repo.UpdateOne(ctx, store.Eq("title", "t1"), store.NewUpdate().Inc("views", 1), store.UpdateOptions{ReturnOriginal: true})
	require.NoError(t, err)
	assert.Equal(t, 11, again.Views)

	deleted, err := repo.DeleteOne(ctx, store.Eq("title", "t0"))
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "t0", deleted.Title)

	missing, err := repo.FindOne(ctx, store.Eq("title", "t0"), store.FindOptions{})
	require.NoError(t, err)
	assert.Nil(t, missing)

	removed, err := repo.DeleteMany(ctx, store.Eq("tags", "travel"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, removed)

	n, err = repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Greater(t, api.scans, 5)
}

func TestCollection_UpdateOnMissReturnsNil(t *testing.T) {
	_, repo := newStories(t, newFakeDynamo())
	out, err := repo.UpdateOne(context.Background(), store.Eq("slug", "nope"), store.NewUpdate().Set("title", "x"), store.UpdateOptions{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCollection_DuplicateID(t *testing.T) {
	ctx := context.Background()
	db, _ := newStories(t, newFakeDynamo())
	coll := db.Collection("stories")

	doc := store.Document{"_id": bson.NewObjectID(), "title": "a"}
	require.NoError(t, coll.InsertOne(ctx, doc))
	err := coll.InsertOne(ctx, doc)
	assert.True(t, store.IsDuplicateKey(err))
}

func TestCollection_UniqueIndex(t *testing.T) {
	ctx := context.Background()
	db, _ := newStories(t, newFakeDynamo(), WithUniqueIndex("users", "username"))
	users := db.Collection("users")

	require.NoError(t, users.InsertOne(ctx, store.Document{"_id": bson.NewObjectID(), "username": "jonny-appleseed"}))
	err := users.InsertOne(ctx, store.Document{"_id": bson.NewObjectID(), "username": "jonny-appleseed"})
	assert.True(t, store.IsDuplicateKey(err))

	other := bson.NewObjectID()
	require.NoError(t, users.InsertOne(ctx, store.Document{"_id": other, "username": "jane-doe"}))
	_, err = users.UpdateOne(ctx, store.Eq("_id", other), store.NewUpdate().Set("username", "jonny-appleseed"), store.UpdateOptions{})
	assert.True(t, store.IsDuplicateKey(err))
}

func TestCollection_DeleteManyGivesUpOnUnprocessedItems(t *testing.T) {
	ctx := context.Background()
	api := newFakeDynamo()
	api.stuck = true
	_, repo := newStories(t, api, WithBatchBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &story{Title: "t" + strconv.Itoa(i), Tags: []string{"travel"}})
		require.NoError(t, err)
	}

	_, err := repo.DeleteMany(ctx, store.Eq("tags", "travel"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnprocessed)
	assert.Equal(t, maxBatchAttempts, api.batches)
}

func TestCollection_UniqueIndexIgnoresMissingFields(t *testing.T) {
	ctx := context.Background()
	db, _ := newStories(t, newFakeDynamo(), WithUniqueIndex("users", "username"))
	users := db.Collection("users")

	require.NoError(t, users.InsertOne(ctx, store.Document{"_id": bson.NewObjectID(), "email": "a@example.com"}))
	require.NoError(t, users.InsertOne(ctx, store.Document{"_id": bson.NewObjectID(), "email": "b@example.com"}))
	require.NoError(t, users.InsertOne(ctx, store.Document{"_id": bson.NewObjectID(), "username": "ada"}))

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestCollection_AggregateJoinsAcrossTables(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	db, repo := newStories(t, newFakeDynamo(), WithClock(func() time.Time { return now }))

	author := bson.NewObjectID()
	require.NoError(t, db.Collection("users").InsertOne(ctx, store.Document{"_id": author, "username": "jonny-appleseed", "hash": "secret"}))
	_, err := repo.Create(ctx, &story{Title: "Lagos", Author: author})
	require.NoError(t, err)

	docs, err := repo.Aggregate(ctx, store.Pipeline{
		store.Lookup{From: "users", LocalField: "author", ForeignField: "_id", As: "author"},
		store.Unwind{Path: "author"},
		store.Project{Projection: store.Exclude("author.hash")},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	author0 := docs[0]["author"].(store.Document)
	assert.Equal(t, "jonny-appleseed", author0["username"])
	assert.NotContains(t, author0, "hash")
}
