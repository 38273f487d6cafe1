package metastore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/manifest"
)

// ScanAPI is the part of the DynamoDB client used by Dynamo.
type ScanAPI interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Dynamo reads manifest rows from a DynamoDB table. FileTime is stored as a
// manifest.TimeLayout string so the filter can compare it lexically.
type Dynamo struct {
	client   ScanAPI
	table    string
	pageSize int32
}

type dynamoItem struct {
	PartitionKey     string `dynamodbav:"PartitionKey"`
	RowKey           string `dynamodbav:"RowKey"`
	DeploymentID     string `dynamodbav:"DeploymentId"`
	Role             string `dynamodbav:"Role"`
	RoleInstance     string `dynamodbav:"RoleInstance"`
	SourceDirectory  string `dynamodbav:"SourceDirectory"`
	FileTime         string `dynamodbav:"FileTime"`
	FileSize         int64  `dynamodbav:"FileSize"`
	CompleteFileName string `dynamodbav:"CompleteFileName"`
	RelativePath     string `dynamodbav:"RelativePath"`
	Container        string `dynamodbav:"Container"`
	Status           string `dynamodbav:"Status"`
	EventTickCount   int64  `dynamodbav:"EventTickCount"`
}

func (it dynamoItem) record() (manifest.Record, error) {
	ft, err := manifest.ParseTime(it.FileTime)
	if err != nil {
		return manifest.Record{}, err
	}
	return manifest.Record{
		PartitionKey:     it.PartitionKey,
		RowKey:           it.RowKey,
		DeploymentID:     it.DeploymentID,
		Role:             it.Role,
		RoleInstance:     it.RoleInstance,
		SourceDirectory:  it.SourceDirectory,
		FileTime:         ft,
		FileSize:         it.FileSize,
		CompleteFileName: it.CompleteFileName,
		RelativePath:     it.RelativePath,
		Container:        it.Container,
		Status:           it.Status,
		EventTickCount:   it.EventTickCount,
	}, nil
}

func NewDynamo(client ScanAPI, table string, size int) *Dynamo {
	return &Dynamo{client: client, table: table, pageSize: int32(pageSize(size))}
}

// OpenDynamo builds a client from the default AWS chain, overridden by any
// static credentials, region or endpoint in cfg.
func OpenDynamo(ctx context.Context, cfg config.ManifestConfig) (*Dynamo, error) {
	dc := cfg.DynamoDB
	opts := []func(*awsconfig.LoadOptions) error{}
	if dc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(dc.Region))
	}
	if dc.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(dc.MaxRetries))
	}
	if dc.AccessKey != "" && dc.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(dc.AccessKey, dc.SecretKey, dc.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if dc.Endpoint != "" {
			o.BaseEndpoint = aws.String(dc.Endpoint)
		}
	})
	return NewDynamo(client, cfg.Table, cfg.PageSize), nil
}

func (d *Dynamo) Query(ctx context.Context, f manifest.Filter, token string) (manifest.Page, error) {
	lo, hi := f.PartitionRange()
	in := &dynamodb.ScanInput{
		TableName:        aws.String(d.table),
		Limit:            aws.Int32(d.pageSize),
		FilterExpression: aws.String("#pk >= :lo AND #pk < :hi AND #st = :st AND #ft >= :from AND #ft < :to AND #ct = :ct"),
		ExpressionAttributeNames: map[string]string{
			"#pk": "PartitionKey",
			"#st": "Status",
			"#ft": "FileTime",
			"#ct": "Container",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lo":   &types.AttributeValueMemberS{Value: lo},
			":hi":   &types.AttributeValueMemberS{Value: hi},
			":st":   &types.AttributeValueMemberS{Value: manifest.StatusSucceeded},
			":from": &types.AttributeValueMemberS{Value: manifest.FormatTime(f.From)},
			":to":   &types.AttributeValueMemberS{Value: manifest.FormatTime(f.To)},
			":ct":   &types.AttributeValueMemberS{Value: f.Container},
		},
	}
	if token != "" {
		var key map[string]string
		if err := decodeToken(token, &key); err != nil {
			return manifest.Page{}, err
		}
		start, err := attributevalue.MarshalMap(key)
		if err != nil {
			return manifest.Page{}, err
		}
		in.ExclusiveStartKey = start
	}

	out, err := d.client.Scan(ctx, in)
	if err != nil {
		return manifest.Page{}, fmt.Errorf("scan %s: %w", d.table, err)
	}

	var items []dynamoItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return manifest.Page{}, fmt.Errorf("decode items: %w", err)
	}
	page := manifest.Page{Records: make([]manifest.Record, 0, len(items))}
	for _, it := range items {
		rec, err := it.record()
		if err != nil {
			return manifest.Page{}, fmt.Errorf("row %s/%s: %w", it.PartitionKey, it.RowKey, err)
		}
		page.Records = append(page.Records, rec)
	}

	if len(out.LastEvaluatedKey) > 0 {
		var key map[string]string
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &key); err != nil {
			return manifest.Page{}, fmt.Errorf("decode last evaluated key: %w", err)
		}
		if page.Next, err = encodeToken(key); err != nil {
			return manifest.Page{}, err
		}
	}
	return page, nil
}

func (d *Dynamo) Close() error { return nil }
