package usecase

import (
	"context"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tasklog"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

// TaskLog is the part of the task log the status panel needs.
type TaskLog interface {
	Pending(ctx context.Context) ([]tasklog.Row, error)
	Acknowledge(ctx context.Context, id int64) (bool, error)
	AcknowledgeAll(ctx context.Context) (int64, error)
}

type TaskList struct {
	Running  []background.Info `json:"running"`
	Finished []tasklog.Row     `json:"finished"`
	// Items is the number of queued work items across pools.
	Items int `json:"items"`
}

type TaskUseCase struct {
	pools  []*background.Pool
	log    TaskLog
	logger logger.Logger
}

// NewTaskUseCase serves the given pools. log may be nil when finished
// tasks are not kept.
func NewTaskUseCase(log TaskLog, l logger.Logger, pools ...*background.Pool) *TaskUseCase {
	return &TaskUseCase{
		pools:  pools,
		log:    log,
		logger: logger.OrNop(l),
	}
}

func (uc *TaskUseCase) List(ctx context.Context) (TaskList, error) {
	out := TaskList{Running: []background.Info{}, Finished: []tasklog.Row{}}
	for _, p := range uc.pools {
		out.Running = append(out.Running, p.List()...)
		out.Items += p.Items()
	}
	if uc.log == nil {
		return out, nil
	}
	rows, err := uc.log.Pending(ctx)
	if err != nil {
		return out, err
	}
	if rows != nil {
		out.Finished = rows
	}
	return out, nil
}

// Cancel reports whether a task with id was in flight in any pool.
func (uc *TaskUseCase) Cancel(id background.ID) bool {
	for _, p := range uc.pools {
		if p.Cancel(id) {
			uc.logger.Info("task canceled", "pool", p.Name(), "id", id)
			return true
		}
	}
	return false
}

func (uc *TaskUseCase) CancelAll() int {
	n := 0
	for _, p := range uc.pools {
		n += p.CancelAll()
	}
	uc.logger.Info("all tasks canceled", "count", n)
	return n
}

func (uc *TaskUseCase) Acknowledge(ctx context.Context, id int64) (bool, error) {
	if uc.log == nil {
		return false, nil
	}
	return uc.log.Acknowledge(ctx, id)
}

func (uc *TaskUseCase) AcknowledgeAll(ctx context.Context) (int64, error) {
	if uc.log == nil {
		return 0, nil
	}
	return uc.log.AcknowledgeAll(ctx)
}
