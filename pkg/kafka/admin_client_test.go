package kafka

import (
	"context"
	"errors"
	"testing"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*cKafka.Metadata, error) {
	args := m.Called(*topic, allTopics, timeoutMs)
	md, _ := args.Get(0).(*cKafka.Metadata)
	return md, args.Error(1)
}

func (m *mockAdmin) CreateTopics(ctx context.Context, topics []cKafka.TopicSpecification, _ ...cKafka.CreateTopicsAdminOption) ([]cKafka.TopicResult, error) {
	args := m.Called(ctx, topics)
	res, _ := args.Get(0).([]cKafka.TopicResult)
	return res, args.Error(1)
}

func (m *mockAdmin) CreatePartitions(ctx context.Context, partitions []cKafka.PartitionsSpecification, _ ...cKafka.CreatePartitionsAdminOption) ([]cKafka.TopicResult, error) {
	args := m.Called(ctx, partitions)
	res, _ := args.Get(0).([]cKafka.TopicResult)
	return res, args.Error(1)
}

func metadata(name string, partitions, replicas int) *cKafka.Metadata {
	tm := cKafka.TopicMetadata{Topic: name}
	for i := range partitions {
		tm.Partitions = append(tm.Partitions, cKafka.PartitionMetadata{ID: int32(i), Replicas: make([]int32, replicas)})
	}
	return &cKafka.Metadata{Topics: map[string]cKafka.TopicMetadata{name: tm}}
}

var testTopic = TopicConfig{Name: "records", NumPartitions: 3, ReplicationFactor: 1}

func TestEnsureTopic_Creates(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", "records", false, mock.Anything).Return(&cKafka.Metadata{Topics: map[string]cKafka.TopicMetadata{}}, nil)
	admin.On("CreateTopics", mock.Anything, []cKafka.TopicSpecification{{Topic: "records", NumPartitions: 3, ReplicationFactor: 1}}).
		Return([]cKafka.TopicResult{{Topic: "records"}}, nil).Once()

	require.NoError(t, EnsureTopic(t.Context(), admin, testTopic, zap.NewNop().Sugar()))
	admin.AssertExpectations(t)
}

func TestEnsureTopic_CreatedConcurrently(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", "records", false, mock.Anything).Return(&cKafka.Metadata{}, nil)
	admin.On("CreateTopics", mock.Anything, mock.Anything).Return([]cKafka.TopicResult{{
		Topic: "records",
		Error: cKafka.NewError(cKafka.ErrTopicAlreadyExists, "exists", false),
	}}, nil)

	require.NoError(t, EnsureTopic(t.Context(), admin, testTopic, zap.NewNop().Sugar()))
}

func TestEnsureTopic_IncreasesPartitions(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", "records", false, mock.Anything).Return(metadata("records", 1, 1), nil)
	admin.On("CreatePartitions", mock.Anything, []cKafka.PartitionsSpecification{{Topic: "records", IncreaseTo: 3}}).
		Return([]cKafka.TopicResult{{Topic: "records"}}, nil).Once()

	require.NoError(t, EnsureTopic(t.Context(), admin, testTopic, zap.NewNop().Sugar()))
	admin.AssertExpectations(t)
}

func TestEnsureTopic_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		setup   func(a *mockAdmin)
		cfg     TopicConfig
		wantErr string
	}{
		{
			name:    "invalid config",
			setup:   func(*mockAdmin) {},
			cfg:     TopicConfig{Name: "records"},
			wantErr: "invalid topic config",
		},
		{
			name: "metadata error",
			setup: func(a *mockAdmin) {
				a.On("GetMetadata", "records", false, mock.Anything).Return(nil, errors.New("timeout"))
			},
			cfg:     testTopic,
			wantErr: "failed to check topic existence",
		},
		{
			name: "too many partitions",
			setup: func(a *mockAdmin) {
				a.On("GetMetadata", "records", false, mock.Anything).Return(metadata("records", 6, 1), nil)
			},
			cfg:     testTopic,
			wantErr: "more than the configured 3",
		},
		{
			name: "create rejected",
			setup: func(a *mockAdmin) {
				a.On("GetMetadata", "records", false, mock.Anything).Return(&cKafka.Metadata{}, nil)
				a.On("CreateTopics", mock.Anything, mock.Anything).Return([]cKafka.TopicResult{{
					Topic: "records",
					Error: cKafka.NewError(cKafka.ErrPolicyViolation, "denied", false),
				}}, nil)
			},
			cfg:     testTopic,
			wantErr: "failed to create topic",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			admin := &mockAdmin{}
			tt.setup(admin)
			require.ErrorContains(t, EnsureTopic(t.Context(), admin, tt.cfg, zap.NewNop().Sugar()), tt.wantErr)
		})
	}
}
