package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/safe-global/safe-decoder-service/shared/redis"
)

// DefaultQueue is the Redis list backing the durable task queue
const DefaultQueue = "tasks:default"

// TaskGetContractMetadata is the one-shot metadata download task
const TaskGetContractMetadata = "get_contract_metadata"

// Task is the durable JSON envelope stored on the queue
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Args       []interface{} `json:"args"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Queue is a durable at-least-once task queue over a Redis list
type Queue struct {
	redisDb *redis.Redis
	key     string
}

// NewQueue creates a task queue on the default topic
func NewQueue(redisDb *redis.Redis) *Queue {
	return &Queue{redisDb: redisDb, key: DefaultQueue}
}

// Enqueue pushes a task onto the queue
func (q *Queue) Enqueue(ctx context.Context, name string, args ...interface{}) (*Task, error) {
	task := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Args:       args,
		EnqueuedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.redisDb.LPush(ctx, q.key, payload); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task, nil
}

// Dequeue blocks up to timeout for the next task. Returns nil when the
// timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	values, err := q.redisDb.BRPop(ctx, timeout, q.key)
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(values) < 2 {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(values[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Len returns the number of pending tasks
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.redisDb.LLen(ctx, q.key)
}

// EnqueueMetadataFetch implements domain.TaskEnqueuer
func (q *Queue) EnqueueMetadataFetch(ctx context.Context, address common.Address, chainID int64, skipAttemptCheck bool) error {
	_, err := q.Enqueue(ctx, TaskGetContractMetadata, address.Hex(), chainID, skipAttemptCheck)
	return err
}

// ParseMetadataFetchArgs decodes the args of a metadata download task
func ParseMetadataFetchArgs(args []interface{}) (common.Address, int64, bool, error) {
	if len(args) < 2 {
		return common.Address{}, 0, false, fmt.Errorf("expected at least 2 args, got %d", len(args))
	}

	rawAddress, ok := args[0].(string)
	if !ok || !common.IsHexAddress(rawAddress) {
		return common.Address{}, 0, false, fmt.Errorf("invalid address argument %v", args[0])
	}

	// JSON numbers decode as float64
	rawChainID, ok := args[1].(float64)
	if !ok {
		return common.Address{}, 0, false, fmt.Errorf("invalid chain id argument %v", args[1])
	}

	skipAttemptCheck := false
	if len(args) > 2 {
		if skip, ok := args[2].(bool); ok {
			skipAttemptCheck = skip
		}
	}

	return common.HexToAddress(rawAddress), int64(rawChainID), skipAttemptCheck, nil
}
