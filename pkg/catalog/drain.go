// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// drain events
const (
	eventStart    = "start"
	eventProgress = "progress"
	eventComplete = "complete"
)

// newDrainMachine returns the removal state machine of shard. Every transition
// is persisted in the shard document before the machine changes state.
func (m *Manager) newDrainMachine(shard *Shard) *fsm.FSM {
	return fsm.NewFSM(
		string(shard.State()),
		fsm.Events{
			{Name: eventStart, Src: []string{string(NotDraining)}, Dst: string(DrainStarted)},
			{Name: eventProgress, Src: []string{string(DrainStarted)}, Dst: string(DrainOngoing)},
			{Name: eventComplete, Src: []string{string(DrainStarted), string(DrainOngoing)}, Dst: string(DrainCompleted)},
		},
		fsm.Callbacks{
			"before_event": func(ctx context.Context, e *fsm.Event) {
				if err := m.setDrainState(ctx, shard.ID, DrainState(e.Src), DrainState(e.Dst)); err != nil {
					e.Cancel(err)
				}
			},
		},
	)
}

// transition fires event and unwraps a persistence failure.
func transition(ctx context.Context, machine *fsm.FSM, event string) error {
	err := machine.Event(ctx, event)
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return nil
}

func (m *Manager) setDrainState(ctx context.Context, id string, from, to DrainState) error {
	current := metadb.Eq("draining", string(from))
	if from == NotDraining {
		current = metadb.In("draining", nil, string(NotDraining))
	}

	result, err := m.db.Update(ctx, ShardsKind,
		metadb.Filter{metadb.Eq(metadb.IDField, id), current},
		metadb.Mutation{Set: map[string]interface{}{"draining": string(to)}},
		metadb.UpdateOptions{})
	if err != nil {
		return err
	}
	if result.Matched == 0 {
		return Error.New("shard %q is no longer in state %s", id, from)
	}
	return nil
}

// RemoveShard starts or continues draining a shard. The first call returns
// DrainStarted, later calls report DrainOngoing until the shard owns no chunks
// and is primary for no database, at which point the shard is deleted and
// DrainCompleted is returned.
func (m *Manager) RemoveShard(ctx context.Context, id string) (progress DrainProgress, err error) {
	defer mon.Task()(&ctx)(&err)

	err = m.withLock(ctx, distlock.ShardTopology, "removeShard "+id, func(ctx context.Context) error {
		progress, err = m.removeShard(ctx, id)
		return err
	})
	return progress, err
}

func (m *Manager) removeShard(ctx context.Context, id string) (DrainProgress, error) {
	shard, err := m.GetShard(ctx, id)
	if err != nil {
		return DrainProgress{}, err
	}

	total, err := m.db.Count(ctx, ShardsKind, nil)
	if err != nil {
		return DrainProgress{}, err
	}
	if total <= 1 {
		return DrainProgress{}, ErrIllegalOperation.New("can't remove last shard %q", id)
	}

	machine := m.newDrainMachine(shard)

	switch shard.State() {
	case NotDraining:
		others, err := m.db.Count(ctx, ShardsKind, metadb.Filter{
			metadb.Ne(metadb.IDField, id),
			metadb.In("draining", string(DrainStarted), string(DrainOngoing)),
		})
		if err != nil {
			return DrainProgress{}, err
		}
		if others > 0 {
			return DrainProgress{}, ErrIllegalOperation.New("can't remove %q while another shard is draining", id)
		}

		if err := transition(ctx, machine, eventStart); err != nil {
			return DrainProgress{}, err
		}

		progress, err := m.drainProgress(ctx, id, DrainStarted)
		if err != nil {
			return DrainProgress{}, err
		}
		m.log.Info("draining shard", zap.String("shard", id), zap.Int("chunks", progress.RemainingChunks), zap.Strings("move primary", progress.DBsToMove))
		m.logChange(ctx, "removeShard.start", "", map[string]interface{}{
			"shard":     id,
			"chunks":    progress.RemainingChunks,
			"dbsToMove": progress.DBsToMove,
		})
		return progress, nil

	case DrainCompleted:
		// marked but not deleted by an interrupted call
		return m.finishRemoval(ctx, id)
	}

	progress, err := m.drainProgress(ctx, id, DrainOngoing)
	if err != nil {
		return DrainProgress{}, err
	}

	if progress.RemainingChunks > 0 || len(progress.DBsToMove) > 0 {
		if machine.Can(eventProgress) {
			if err := transition(ctx, machine, eventProgress); err != nil {
				return DrainProgress{}, err
			}
		}
		return progress, nil
	}

	if err := transition(ctx, machine, eventComplete); err != nil {
		return DrainProgress{}, err
	}
	return m.finishRemoval(ctx, id)
}

func (m *Manager) finishRemoval(ctx context.Context, id string) (DrainProgress, error) {
	removed, err := m.db.Remove(ctx, ShardsKind, metadb.Filter{
		metadb.Eq(metadb.IDField, id),
		metadb.Eq("draining", string(DrainCompleted)),
	}, 1)
	if err != nil {
		return DrainProgress{}, err
	}
	if removed == 0 {
		return DrainProgress{}, ErrShardNotFound.New("%q", id)
	}

	m.log.Info("removed shard", zap.String("shard", id))
	m.logChange(ctx, "removeShard", "", map[string]interface{}{"shard": id})
	return DrainProgress{Status: DrainCompleted}, nil
}

func (m *Manager) drainProgress(ctx context.Context, id string, status DrainState) (DrainProgress, error) {
	chunks, err := m.db.Count(ctx, ChunksKind, metadb.Filter{metadb.Eq("shard", id)})
	if err != nil {
		return DrainProgress{}, err
	}
	dbs, err := m.GetDatabasesForShard(ctx, id)
	if err != nil {
		return DrainProgress{}, err
	}
	return DrainProgress{
		Status:          status,
		RemainingChunks: chunks,
		DBsToMove:       dbs,
	}, nil
}
