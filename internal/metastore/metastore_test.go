package metastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/manifest"
)

type mockScan struct {
	mock.Mock
}

func (m *mockScan) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

func testFilter(t *testing.T) manifest.Filter {
	f, err := manifest.NewFilter(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		"wad-logs")
	require.NoError(t, err)
	return f
}

func item(t *testing.T, rowKey, rel string) map[string]types.AttributeValue {
	av, err := attributevalue.MarshalMap(dynamoItem{
		PartitionKey: "0638448480000000000",
		RowKey:       rowKey,
		FileTime:     "2024-03-01T10:00:00.0000000Z",
		FileSize:     512,
		RelativePath: rel,
		Container:    "wad-logs",
		Status:       manifest.StatusSucceeded,
	})
	require.NoError(t, err)
	return av
}

func TestDynamoQueryPaginates(t *testing.T) {
	f := testFilter(t)
	lastKey := map[string]types.AttributeValue{
		"PartitionKey": &types.AttributeValueMemberS{Value: "0638448480000000000"},
		"RowKey":       &types.AttributeValueMemberS{Value: "r1"},
	}

	m := new(mockScan)
	m.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.ScanOutput{
		Items:            []map[string]types.AttributeValue{item(t, "r1", "a/1.log")},
		LastEvaluatedKey: lastKey,
	}, nil).Once()
	m.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return assert.ObjectsAreEqual(lastKey, in.ExclusiveStartKey)
	})).Return(&dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{item(t, "r2", "a/2.log")},
	}, nil).Once()

	store := NewDynamo(m, "WADDirectoriesTable", 50)

	first, err := store.Query(context.Background(), f, "")
	require.NoError(t, err)
	require.Len(t, first.Records, 1)
	assert.Equal(t, "a/1.log", first.Records[0].RelativePath)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.Records[0].FileTime)
	require.NotEmpty(t, first.Next)

	second, err := store.Query(context.Background(), f, first.Next)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "a/2.log", second.Records[0].RelativePath)
	assert.Empty(t, second.Next)

	m.AssertExpectations(t)
}

func TestDynamoQueryInput(t *testing.T) {
	f := testFilter(t)
	var captured *dynamodb.ScanInput
	m := new(mockScan)
	m.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*dynamodb.ScanInput)
	}).Return(&dynamodb.ScanOutput{}, nil)

	_, err := NewDynamo(m, "tbl", 0).Query(context.Background(), f, "")
	require.NoError(t, err)

	lo, hi := f.PartitionRange()
	assert.Equal(t, "tbl", *captured.TableName)
	assert.EqualValues(t, defaultPageSize, *captured.Limit)
	assert.Equal(t, &types.AttributeValueMemberS{Value: lo}, captured.ExpressionAttributeValues[":lo"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: hi}, captured.ExpressionAttributeValues[":hi"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2024-03-01T00:00:00.0000000Z"}, captured.ExpressionAttributeValues[":from"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "wad-logs"}, captured.ExpressionAttributeValues[":ct"])
}

func TestDynamoQueryErrors(t *testing.T) {
	f := testFilter(t)
	m := new(mockScan)
	m.On("Scan", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	store := NewDynamo(m, "tbl", 10)
	_, err := store.Query(context.Background(), f, "")
	assert.ErrorContains(t, err, "throttled")

	_, err = store.Query(context.Background(), f, "%%%")
	assert.ErrorContains(t, err, "invalid continuation token")
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery("logs.WADDirectoriesTable")
	assert.Contains(t, q, `FROM "logs"."waddirectoriestable"`)
	assert.Contains(t, q, "(partition_key, row_key) > ($7, $8)")
	assert.Contains(t, q, "ORDER BY partition_key, row_key LIMIT $9")

	assert.Contains(t, buildQuery(`bad"name`), `"bad""name"`)
}

func TestPgPageCursor(t *testing.T) {
	rows := []pgRow{
		{PartitionKey: "p1", RowKey: "a", RelativePath: "x.log", FileTime: time.Date(2024, 3, 1, 1, 0, 0, 0, time.FixedZone("x", 3600))},
		{PartitionKey: "p1", RowKey: "b", RelativePath: "y.log"},
	}

	full, err := pgPage(rows, 2)
	require.NoError(t, err)
	require.Len(t, full.Records, 2)
	assert.Equal(t, time.UTC, full.Records[0].FileTime.Location())

	var cur pgCursor
	require.NoError(t, decodeToken(full.Next, &cur))
	assert.Equal(t, pgCursor{PartitionKey: "p1", RowKey: "b"}, cur)

	short, err := pgPage(rows, 3)
	require.NoError(t, err)
	assert.Empty(t, short.Next)
}

func TestNewUnsupportedBackend(t *testing.T) {
	_, _, err := New(context.Background(), config.ManifestConfig{Backend: "cassandra"})
	assert.ErrorContains(t, err, "unsupported manifest backend")

	_, _, err = New(context.Background(), config.ManifestConfig{Backend: "postgres"})
	assert.ErrorContains(t, err, "dsn is required")
}
