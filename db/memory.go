package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/edge"
	"github.com/distrain/tracker/model/task"
	"github.com/pkg/errors"
)

// MemoryGraphStore is a process-local GraphStore. Devices and tasks are
// returned in insertion order unless a query asks otherwise.
type MemoryGraphStore struct {
	mu        sync.RWMutex
	devices   map[string]*device.Device
	deviceIds []string
	tasks     map[string]*task.Task
	taskIds   []string
	worksOn   []edge.WorksOn
	worksWith []edge.WorksWith
}

func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		devices: map[string]*device.Device{},
		tasks:   map[string]*task.Task{},
	}
}

func (s *MemoryGraphStore) InsertDevice(_ context.Context, d device.Device) error {
	if err := d.Validate(); err != nil {
		return errors.Wrap(err, "invalid device")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[d.Id]; ok {
		return errors.Wrapf(ErrDuplicateKey, "device '%s'", d.Id)
	}
	s.devices[d.Id] = &d
	s.deviceIds = append(s.deviceIds, d.Id)
	return nil
}

func (s *MemoryGraphStore) FindDevice(_ context.Context, id string) (*device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, nil
	}
	out := *d
	return &out, nil
}

func (s *MemoryGraphStore) FindDevices(_ context.Context, q DeviceQuery) ([]device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []device.Device{}
	for _, id := range s.deviceIds {
		d := s.devices[id]
		if q.Status != "" && d.Status != q.Status {
			continue
		}
		out = append(out, *d)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryGraphStore) UpdateDeviceLogin(_ context.Context, id, address, status string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return false, nil
	}
	d.Address = address
	d.Status = status
	d.LastLogin = at
	return true, nil
}

func (s *MemoryGraphStore) SetDeviceStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return errors.Errorf("device '%s' not found", id)
	}
	d.Status = status
	return nil
}

func (s *MemoryGraphStore) SetDeviceStatusIf(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (s *MemoryGraphStore) SetAllDeviceStatuses(_ context.Context, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, d := range s.devices {
		if d.Status != status {
			d.Status = status
			changed++
		}
	}
	return changed, nil
}

func (s *MemoryGraphStore) InsertTask(_ context.Context, t task.Task) error {
	if err := t.Validate(); err != nil {
		return errors.Wrap(err, "invalid task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.Id]; ok {
		return errors.Wrapf(ErrDuplicateKey, "task '%s'", t.Id)
	}
	s.tasks[t.Id] = &t
	s.taskIds = append(s.taskIds, t.Id)
	return nil
}

func (s *MemoryGraphStore) FindTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (s *MemoryGraphStore) FindTasks(_ context.Context, q TaskQuery) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []task.Task{}
	for _, id := range s.taskIds {
		t := s.tasks[id]
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		out = append(out, *t)
	}

	if q.SmallestFirst {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].DevicesCount != out[j].DevicesCount {
				return out[i].DevicesCount < out[j].DevicesCount
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryGraphStore) SetTaskStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return errors.Errorf("task '%s' not found", id)
	}
	t.Status = status
	if status == tracker.TaskOngoing {
		t.StartedAt = time.Now()
	}
	return nil
}

func (s *MemoryGraphStore) SetTaskStatusIf(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if to == tracker.TaskOngoing {
		t.StartedAt = time.Now()
	}
	return true, nil
}

func (s *MemoryGraphStore) InsertWorksOn(_ context.Context, e edge.WorksOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.worksOn {
		if existing.Id == e.Id {
			return errors.Wrapf(ErrDuplicateKey, "assignment '%s'", e.Id)
		}
		if e.Active && existing.Active && existing.DeviceId == e.DeviceId {
			return errors.Wrapf(ErrDuplicateKey, "device '%s' already works on task '%s'", e.DeviceId, existing.TaskId)
		}
	}
	s.worksOn = append(s.worksOn, e)
	return nil
}

func (s *MemoryGraphStore) FindWorksOn(_ context.Context, q WorksOnQuery) ([]edge.WorksOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []edge.WorksOn{}
	for _, e := range s.worksOn {
		if q.DeviceId != "" && e.DeviceId != q.DeviceId {
			continue
		}
		if q.TaskId != "" && e.TaskId != q.TaskId {
			continue
		}
		if q.ActiveOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *MemoryGraphStore) ReleaseWorksOn(_ context.Context, deviceID, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	released := 0
	for i := range s.worksOn {
		e := &s.worksOn[i]
		if !e.Active || e.DeviceId != deviceID {
			continue
		}
		if taskID != "" && e.TaskId != taskID {
			continue
		}
		e.Active = false
		e.ReleasedAt = now
		released++
	}
	return released, nil
}

func (s *MemoryGraphStore) ReleaseAllWorksOn(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	released := 0
	for i := range s.worksOn {
		if s.worksOn[i].Active {
			s.worksOn[i].Active = false
			s.worksOn[i].ReleasedAt = now
			released++
		}
	}
	return released, nil
}

func (s *MemoryGraphStore) RemoveWorksOn(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.worksOn {
		if e.Id == id {
			s.worksOn = append(s.worksOn[:i], s.worksOn[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryGraphStore) InsertWorksWith(_ context.Context, edges ...edge.WorksWith) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.worksWith = append(s.worksWith, edges...)
	return nil
}

func (s *MemoryGraphStore) FindWorksWith(_ context.Context, taskID string) ([]edge.WorksWith, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []edge.WorksWith{}
	for _, e := range s.worksWith {
		if e.TaskId == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryGraphStore) RemoveWorksWith(_ context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.worksWith[:0]
	removed := 0
	for _, e := range s.worksWith {
		if e.TaskId == taskID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.worksWith = kept
	return removed, nil
}

func (s *MemoryGraphStore) Close(context.Context) error { return nil }
