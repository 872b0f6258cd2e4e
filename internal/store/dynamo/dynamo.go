// Package dynamo implements the document store on DynamoDB. Each collection
// is a table keyed by the hex object id; the document itself is kept as a
// BSON blob and queried in process.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	batchSize = 25
	// maxBatchAttempts bounds the resubmission of unprocessed batch items.
	maxBatchAttempts = 5
)

var errUnprocessed = errors.New("batch write left unprocessed items")

// API is the subset of the DynamoDB client the store uses.
type API interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// item is the stored shape of one document.
type item struct {
	ID      string `dynamodbav:"id"`
	Body    []byte `dynamodbav:"body"`
	Version int64  `dynamodbav:"version"`
}

// Database maps collections onto prefixed tables.
type Database struct {
	api        API
	prefix     string
	unique     map[string][][]string
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// Option configures a Database.
type Option func(*Database)

// WithUniqueIndex rejects writes that would give two documents of collection
// the same values for fields.
func WithUniqueIndex(collection string, fields ...string) Option {
	return func(d *Database) {
		d.unique[collection] = append(d.unique[collection], fields)
	}
}

// WithClock overrides the clock used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Database) { d.now = now }
}

// WithBatchBackOff overrides the wait between batch write resubmissions.
func WithBatchBackOff(b func() backoff.BackOff) Option {
	return func(d *Database) { d.newBackOff = b }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.DynamoDB.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if creds, credErr := awsCfg.Credentials.Retrieve(ctx); credErr != nil {
		logger.WithError(credErr).Warn("Failed to retrieve credentials (will retry on first API call)")
	} else {
		logger.WithFields(logrus.Fields{
			"provider":          creds.Source,
			"has_session_token": creds.SessionToken != "",
			"region":            cfg.DynamoDB.Region,
		}).Debug("AWS credentials retrieved")
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"region":       cfg.DynamoDB.Region,
		"table_prefix": cfg.DynamoDB.TablePrefix,
	}).Info("DynamoDB client initialized")

	return client, nil
}

// New creates a store over api. Table names are prefix + collection name.
func New(api API, prefix string, opts ...Option) *Database {
	d := &Database{
		api:        api,
		prefix:     prefix,
		unique:     map[string][][]string{},
		now:        time.Now,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Database) table(collection string) string { return d.prefix + collection }

func (d *Database) Collection(name string) store.Collection {
	return &collection{db: d, name: name}
}

// Ping describes the users table.
func (d *Database) Ping(ctx context.Context) error {
	_, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table("users"))})
	return err
}

func (d *Database) Close(context.Context) error { return nil }

// EnsureTables creates missing tables in on-demand mode and waits for them.
func (d *Database) EnsureTables(ctx context.Context, collections ...string) error {
	for _, name := range collections {
		table := d.table(name)
		_, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe table %s: %w", table, err)
		}

		_, err = d.api.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}

		waiter := dynamodb.NewTableExistsWaiter(d.api)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute); err != nil {
			return fmt.Errorf("table %s did not become active: %w", table, err)
		}
	}
	return nil
}

// Documents implements store.Resolver.
func (d *Database) Documents(ctx context.Context, collection string) ([]store.Document, error) {
	entries, err := d.scan(ctx, collection)
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	return docs, nil
}

type entry struct {
	doc     store.Document
	version int64
}

func (d *Database) scan(ctx context.Context, collection string) ([]entry, error) {
	paginator := dynamodb.NewScanPaginator(d.api, &dynamodb.ScanInput{
		TableName:      aws.String(d.table(collection)),
		ConsistentRead: aws.Bool(true),
	})

	var out []entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var it item
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item: %w", err)
			}
			var doc store.Document
			if err := bson.Unmarshal(it.Body, &doc); err != nil {
				return nil, fmt.Errorf("failed to decode document %s: %w", it.ID, err)
			}
			out = append(out, entry{doc: store.Canonicalize(doc), version: it.Version})
		}
	}
	return out, nil
}

func (d *Database) put(ctx context.Context, collection string, doc store.Document, version int64) error {
	id, ok := doc["_id"].(bson.ObjectID)
	if !ok {
		return fmt.Errorf("document in %s has no object id", collection)
	}
	body, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item{ID: id.Hex(), Body: body, Version: version + 1})
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.table(collection)),
		Item:      av,
	}
	if version == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(id)")
	} else {
		input.ConditionExpression = aws.String("#v = :v")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		}
	}

	_, err = d.api.PutItem(ctx, input)
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		if version == 0 {
			return fmt.Errorf("%w: _id %s", store.ErrDuplicateKey, id.Hex())
		}
		return fmt.Errorf("document %s changed concurrently: %w", id.Hex(), err)
	}
	return err
}

func (d *Database) deleteIDs(ctx context.Context, collection string, ids []string) error {
	table := d.table(collection)
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, id := range ids[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
				},
			})
		}

		pending := map[string][]types.WriteRequest{table: requests}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			out, err := d.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			if len(out.UnprocessedItems) > 0 {
				pending = out.UnprocessedItems
				return struct{}{}, errUnprocessed
			}
			return struct{}{}, nil
		}, backoff.WithBackOff(d.newBackOff()), backoff.WithMaxTries(maxBatchAttempts))
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

// violatesUnique reports whether candidate collides with another document on
// one of the collection's unique field sets. Documents missing a field never
// collide on it.
func (d *Database) violatesUnique(collection string, entries []entry, candidate store.Document) bool {
	for _, fields := range d.unique[collection] {
		for _, e := range entries {
			if store.Equal(e.doc["_id"], candidate["_id"]) {
				continue
			}
			same := true
			for _, f := range fields {
				a, aok := store.ValueAt(e.doc, f)
				b, bok := store.ValueAt(candidate, f)
				if !aok || !bok || !store.Equal(a, b) {
					same = false
					break
				}
			}
			if same {
				return true
			}
		}
	}
	return false
}

type collection struct {
	db   *Database
	name string
}

func (c *collection) Name() string { return c.name }

func (c *collection) docs(ctx context.Context) ([]store.Document, error) {
	return c.db.Documents(ctx, c.name)
}

// first returns the first entry matching cond in scan order.
func (c *collection) first(ctx context.Context, cond store.Condition) (*entry, []entry, error) {
	entries, err := c.db.scan(ctx, c.name)
	if err != nil {
		return nil, nil, err
	}
	for i := range entries {
		if cond == nil || cond.Matches(entries[i].doc) {
			return &entries[i], entries, nil
		}
	}
	return nil, entries, nil
}

func (c *collection) FindOne(ctx context.Context, cond store.Condition, opts store.FindOptions) (store.Document, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return nil, err
	}
	opts.Limit = 1
	found := store.Query(docs, cond, opts)
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (c *collection) Find(ctx context.Context, cond store.Condition, opts store.FindOptions) ([]store.Document, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return nil, err
	}
	return store.Query(docs, cond, opts), nil
}

func (c *collection) Count(ctx context.Context, cond store.Condition) (int64, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(store.Filter(docs, cond))), nil
}

func (c *collection) InsertOne(ctx context.Context, doc store.Document) error {
	doc = store.Canonicalize(doc)
	if len(c.db.unique[c.name]) > 0 {
		entries, err := c.db.scan(ctx, c.name)
		if err != nil {
			return err
		}
		if c.db.violatesUnique(c.name, entries, doc) {
			return fmt.Errorf("%w in %s", store.ErrDuplicateKey, c.name)
		}
	}
	return c.db.put(ctx, c.name, doc, 0)
}

func (c *collection) UpdateOne(ctx context.Context, cond store.Condition, update *store.Update, opts store.UpdateOptions) (store.Document, error) {
	match, entries, err := c.first(ctx, cond)
	if err != nil || match == nil {
		return nil, err
	}

	original := match.doc
	updated := store.Clone(original)
	update.Apply(updated, c.db.now())

	if c.db.violatesUnique(c.name, entries, updated) {
		return nil, fmt.Errorf("%w in %s", store.ErrDuplicateKey, c.name)
	}
	if err := c.db.put(ctx, c.name, updated, match.version); err != nil {
		return nil, err
	}

	out := updated
	if opts.ReturnOriginal {
		out = original
	}
	if opts.Projection != nil {
		return opts.Projection.Apply(out), nil
	}
	return out, nil
}

func (c *collection) DeleteOne(ctx context.Context, cond store.Condition) (store.Document, error) {
	match, _, err := c.first(ctx, cond)
	if err != nil || match == nil {
		return nil, err
	}

	id, _ := match.doc["_id"].(bson.ObjectID)
	_, err = c.db.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.db.table(c.name)),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id.Hex()}},
	})
	if err != nil {
		return nil, err
	}
	return match.doc, nil
}

func (c *collection) DeleteMany(ctx context.Context, cond store.Condition) (int64, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, doc := range store.Filter(docs, cond) {
		if id, ok := doc["_id"].(bson.ObjectID); ok {
			ids = append(ids, id.Hex())
		}
	}
	if err := c.db.deleteIDs(ctx, c.name, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (c *collection) Aggregate(ctx context.Context, pipeline store.Pipeline) ([]store.Document, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return nil, err
	}
	return store.Evaluate(ctx, docs, pipeline, c.db)
}
