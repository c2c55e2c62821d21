package scheduler

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
	"github.com/nexhub-labs/coordinator/internal/store"
)

// Class weights favor strict-SLA classes over loose ones even at equal
// priority.
const (
	weightRealTime = 3
	weightPlanned  = 2
	weightComplex  = 1
)

// Deadline pressure steps. The bonus grows in discrete steps as the
// remaining time to the deadline shrinks, so tasks closer to breaching
// their SLA sort earlier.
const (
	pressureUnderFourHours = 1
	pressureUnderOneHour   = 3
	pressureOverdue        = 5
)

// Scheduler computes dispatch order over the store's ready tasks. It keeps
// no sorted structure of its own; candidates are re-scored lazily at query
// time, which also keeps deadline pressure current without a re-sort timer.
type Scheduler struct {
	logger *zap.Logger
	store  *store.Store
}

// New creates a scheduler over the given store.
func New(st *store.Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		store:  st,
	}
}

// Score computes the ordering score for a candidate task at the given
// instant. Higher scores dispatch first.
func Score(task *model.Task, now time.Time) int {
	return int(task.Priority)*classWeight(task.Class) + deadlinePressure(task.Deadline, now)
}

func classWeight(class model.TaskClass) int {
	switch class {
	case model.TaskClassRealTime:
		return weightRealTime
	case model.TaskClassPlanned:
		return weightPlanned
	case model.TaskClassComplex:
		return weightComplex
	}
	return 0
}

func deadlinePressure(deadline, now time.Time) int {
	remaining := deadline.Sub(now)
	switch {
	case remaining <= 0:
		return pressureOverdue
	case remaining < time.Hour:
		return pressureUnderOneHour
	case remaining < 4*time.Hour:
		return pressureUnderFourHours
	}
	return 0
}

// RankedReady returns every dispatch-eligible task in dispatch order:
// score descending, insertion sequence ascending among ties. Tasks with
// incomplete dependencies are excluded by the store.
func (s *Scheduler) RankedReady(now time.Time) []*model.Task {
	ready := s.store.ReadyTasks()

	// ReadyTasks is already in insertion order, so a stable sort keeps
	// FIFO among equal scores.
	sort.SliceStable(ready, func(i, j int) bool {
		return Score(ready[i], now) > Score(ready[j], now)
	})
	return ready
}

// NextReady returns the single highest-ranked ready task, if any.
func (s *Scheduler) NextReady(now time.Time) (*model.Task, bool) {
	ranked := s.RankedReady(now)
	if len(ranked) == 0 {
		return nil, false
	}
	return ranked[0], true
}
