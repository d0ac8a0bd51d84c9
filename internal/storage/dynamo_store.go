package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/google/uuid"

	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

var _ SampleStore = (*DynamoSampleStore)(nil)

// DynamoConfig describes the DynamoDB table samples are written to
type DynamoConfig struct {
	Table    string        // Table name, partition key "PK" and sort key "SK"
	Region   string        // AWS region
	Endpoint string        // Optional endpoint override, e.g. a local DynamoDB
	TTL      time.Duration // Optional item expiry, zero keeps items forever
}

// Validate checks the table and region are set
func (c DynamoConfig) Validate() error {
	if c.Table == "" {
		return errors.New("dynamo table is required")
	}
	if c.Region == "" {
		return errors.New("dynamo region is required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("dynamo ttl must not be negative: %s", c.TTL)
	}
	return nil
}

type sampleItem struct {
	PK               string   `dynamodbav:"PK"`
	SK               string   `dynamodbav:"SK"`
	Timestamp        int64    `dynamodbav:"timestamp"`
	Latitude         float64  `dynamodbav:"latitude"`
	Longitude        float64  `dynamodbav:"longitude"`
	Altitude         *float64 `dynamodbav:"altitude,omitempty"`
	AbsoluteAltitude float64  `dynamodbav:"absolute_altitude"`
	RelativeAltitude float64  `dynamodbav:"relative_altitude"`
	HomeAltitude     float64  `dynamodbav:"home_altitude"`
	HomeLatitude     float64  `dynamodbav:"home_latitude"`
	HomeLongitude    float64  `dynamodbav:"home_longitude"`
	Speed            float64  `dynamodbav:"speed"`
	CalculatedSpeed  float64  `dynamodbav:"calculated_speed"`
	Heading          float64  `dynamodbav:"heading"`
	Battery          float64  `dynamodbav:"battery"`
	TTL              int64    `dynamodbav:"ttl,omitempty"`
}

// DynamoSampleStore appends samples to a DynamoDB table. Items are keyed by
// drone ID and the sample time; a random suffix keeps samples sharing a
// timestamp apart.
type DynamoSampleStore struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

// NewDynamoSampleStore creates a store using the default AWS credential chain
func NewDynamoSampleStore(config DynamoConfig) (*DynamoSampleStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	return NewDynamoSampleStoreWithClient(dynamodb.New(sess), config), nil
}

// NewDynamoSampleStoreWithClient creates a store on top of an existing client
func NewDynamoSampleStoreWithClient(client dynamodbiface.DynamoDBAPI, config DynamoConfig) *DynamoSampleStore {
	return &DynamoSampleStore{
		client: client,
		table:  config.Table,
		ttl:    config.TTL,
		now:    time.Now,
	}
}

func sortKey(sample *telemetry.Normalized) string {
	return fmt.Sprintf("%s#%s", sample.Time().UTC().Format(time.RFC3339Nano), uuid.NewString())
}

func (s *DynamoSampleStore) AppendSample(ctx context.Context, sample *telemetry.Normalized) error {
	item := sampleItem{
		PK:               sample.DroneID,
		SK:               sortKey(sample),
		Timestamp:        sample.Timestamp,
		Latitude:         sample.Latitude,
		Longitude:        sample.Longitude,
		Altitude:         sample.Altitude,
		AbsoluteAltitude: sample.AbsoluteAltitude,
		RelativeAltitude: sample.RelativeAltitude,
		HomeAltitude:     sample.HomeAltitude,
		HomeLatitude:     sample.HomeLatitude,
		HomeLongitude:    sample.HomeLongitude,
		Speed:            sample.Speed,
		CalculatedSpeed:  sample.CalculatedSpeed,
		Heading:          sample.Heading,
		Battery:          sample.Battery,
	}
	if s.ttl > 0 {
		item.TTL = s.now().Add(s.ttl).Unix()
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshalling item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if _, err = s.client.PutItemWithContext(ctx, input); err != nil {
		return fmt.Errorf("putting item: %w", err)
	}
	return nil
}

// Close is a no-op, the AWS client holds no resources that need releasing
func (s *DynamoSampleStore) Close() error {
	return nil
}
