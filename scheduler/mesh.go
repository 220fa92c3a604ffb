package scheduler

import (
	"context"

	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/edge"
	"github.com/pkg/errors"
)

// MeshBuilder records the peer graph of a task. Building the same task twice
// duplicates its edges, so it must run once per task.
type MeshBuilder struct {
	store db.GraphStore
}

func NewMeshBuilder(store db.GraphStore) *MeshBuilder {
	return &MeshBuilder{store: store}
}

// Build writes a directed edge for every ordered pair of distinct devices
// and returns how many it wrote: n*(n-1) for n devices.
func (m *MeshBuilder) Build(ctx context.Context, devices []device.Device, taskID string) (int, error) {
	edges := MeshEdges(devices, taskID)
	if err := m.store.InsertWorksWith(ctx, edges...); err != nil {
		return 0, errors.Wrapf(err, "recording mesh for task '%s'", taskID)
	}
	return len(edges), nil
}

// MeshEdges computes the complete directed peer graph.
func MeshEdges(devices []device.Device, taskID string) []edge.WorksWith {
	n := len(devices)
	if n < 2 {
		return []edge.WorksWith{}
	}

	edges := make([]edge.WorksWith, 0, n*(n-1))
	for _, a := range devices {
		for _, b := range devices {
			if a.Id == b.Id {
				continue
			}
			edges = append(edges, edge.NewWorksWith(a.Id, b.Id, taskID))
		}
	}
	return edges
}
