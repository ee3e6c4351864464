package engine

import (
	"fmt"

	"github.com/roach88/treesync/internal/model"
)

// statusPairs is the one canonical mapping between local and remote states.
var statusPairs = []struct {
	local  model.Status
	remote model.RemoteStatus
}{
	{model.StatusPending, model.RemoteBacklog},
	{model.StatusActive, model.RemoteInProgress},
	{model.StatusInReview, model.RemoteInReview},
	{model.StatusDone, model.RemoteDone},
	{model.StatusBlocked, model.RemoteBlocked},
	{model.StatusCancelled, model.RemoteCancelled},
}

// StatusTable is a bijection between local and remote statuses.
type StatusTable struct {
	toRemote map[model.Status]model.RemoteStatus
	toLocal  map[model.RemoteStatus]model.Status
}

// Statuses is the table used by the engine.
var Statuses = newStatusTable()

func newStatusTable() StatusTable {
	t := StatusTable{
		toRemote: make(map[model.Status]model.RemoteStatus, len(statusPairs)),
		toLocal:  make(map[model.RemoteStatus]model.Status, len(statusPairs)),
	}
	for _, p := range statusPairs {
		if _, dup := t.toRemote[p.local]; dup {
			panic(fmt.Sprintf("status table: duplicate local status %q", p.local))
		}
		if _, dup := t.toLocal[p.remote]; dup {
			panic(fmt.Sprintf("status table: duplicate remote status %q", p.remote))
		}
		t.toRemote[p.local] = p.remote
		t.toLocal[p.remote] = p.local
	}
	return t
}

// ToRemote maps a local status.
func (t StatusTable) ToRemote(s model.Status) (model.RemoteStatus, error) {
	r, ok := t.toRemote[s]
	if !ok {
		return "", fmt.Errorf("no remote status for %q", s)
	}
	return r, nil
}

// ToLocal maps a remote status.
func (t StatusTable) ToLocal(r model.RemoteStatus) (model.Status, error) {
	s, ok := t.toLocal[r]
	if !ok {
		return "", fmt.Errorf("no local status for %q", r)
	}
	return s, nil
}
