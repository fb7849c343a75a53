package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
)

// ============================================================================
// JobStore
// ============================================================================

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	return insertOne(ctx, s.col(ColJobs), job)
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return findOne[model.Job](ctx, s.col(ColJobs), bson.D{{Key: "_id", Value: id}})
}

// UpdateJob 应用补丁并写回
//
// 读-改-写：补丁先经 model.Job.Apply 做状态机与单调性校验，
// 写回用 (status, updated_at) 乐观锁；并发修改返回 ErrConflict。
func (s *Store) UpdateJob(ctx context.Context, id string, patch *model.JobPatch) (*model.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, storage.ErrNotFound
	}

	prevStatus := job.Status
	prevUpdated := job.UpdatedAt

	if err := job.Apply(patch, time.Now()); err != nil {
		return nil, err
	}

	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: prevStatus},
		{Key: "updated_at", Value: prevUpdated},
	}
	res, err := s.col(ColJobs).ReplaceOne(ctx, filter, job)
	if err != nil {
		return nil, wrapError(err)
	}
	if res.MatchedCount == 0 {
		return nil, storage.ErrConflict
	}
	return job, nil
}

// ListStaleJobs 返回 processing 状态且心跳早于 cutoff 的任务
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	filter := bson.D{
		{Key: "status", Value: model.JobProcessing},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "heartbeat_at", Value: bson.D{{Key: "$lt", Value: cutoff}}}},
			bson.D{
				{Key: "heartbeat_at", Value: bson.D{{Key: "$exists", Value: false}}},
				{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
			},
		}},
	}
	return findMany[model.Job](ctx, s.col(ColJobs), filter)
}
