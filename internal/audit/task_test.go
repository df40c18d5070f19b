package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task"}, nil
}

func TestPublisherPublish(t *testing.T) {
	enq := &fakeEnqueuer{}
	entry := validEntry()

	require.NoError(t, Publisher{Client: enq, Queue: "rewards"}.Publish(context.Background(), entry))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypeDiscountApplied, enq.tasks[0].Type())

	var decoded Entry
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, entry.BagID, decoded.BagID)
	require.True(t, entry.OccurredAt.Equal(decoded.OccurredAt))
}

func TestPublisherIgnoresDuplicateTask(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	require.NoError(t, Publisher{Client: enq}.Publish(context.Background(), validEntry()))

	enq.err = errors.New("redis down")
	require.Error(t, Publisher{Client: enq}.Publish(context.Background(), validEntry()))
}

func TestTaskHandlerRecords(t *testing.T) {
	store := &stubStore{}
	h := TaskHandler{Service: Service{Store: store, Enabled: true}, Logger: zerolog.Nop()}

	task, err := NewDiscountAppliedTask(validEntry())
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, store.inserted, 1)
}

func TestTaskHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := TaskHandler{Service: Service{Store: &stubStore{}, Enabled: true}, Logger: zerolog.Nop()}

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeDiscountApplied, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	entry := validEntry()
	entry.BagID = ""
	task, err := NewDiscountAppliedTask(entry)
	require.NoError(t, err)
	require.ErrorIs(t, h.ProcessTask(context.Background(), task), asynq.SkipRetry)
}

func TestTaskHandlerRetriesStoreFailures(t *testing.T) {
	h := TaskHandler{Service: Service{Store: &stubStore{err: errors.New("db down")}, Enabled: true}, Logger: zerolog.Nop()}

	task, err := NewDiscountAppliedTask(validEntry())
	require.NoError(t, err)
	err = h.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}
