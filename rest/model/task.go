package model

import (
	"time"

	"github.com/distrain/tracker/model/edge"
	"github.com/distrain/tracker/model/task"
	"github.com/distrain/tracker/storage"
)

// APITaskSubmission is the body of a task submission.
type APITaskSubmission struct {
	DevicesCount   int    `json:"devices_count"`
	Params         string `json:"params"`
	DataType       string `json:"data_type"`
	DataTypeParams string `json:"data_type_params"`
	MultipleFiles  bool   `json:"multiple_files"`
}

func (s *APITaskSubmission) ToService() task.Options {
	return task.Options{
		DevicesCount:   s.DevicesCount,
		Params:         s.Params,
		DataType:       s.DataType,
		DataTypeParams: s.DataTypeParams,
		MultipleFiles:  s.MultipleFiles,
	}
}

// APITaskCreated tells the submitter where to upload the task's data.
type APITaskCreated struct {
	TaskID      string    `json:"task_id"`
	Status      string    `json:"status"`
	MetadataURL string    `json:"metadata_url"`
	ChunkURLs   []string  `json:"chunk_urls"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// BuildFromService fills in the upload references. chunks must be in rank
// order.
func (c *APITaskCreated) BuildFromService(t task.Task, metadata storage.SignedURL, chunks []storage.SignedURL) {
	c.TaskID = t.Id
	c.Status = t.Status
	c.MetadataURL = metadata.URL
	c.ExpiresAt = metadata.ExpiresAt
	c.ChunkURLs = make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		c.ChunkURLs = append(c.ChunkURLs, chunk.URL)
		if chunk.ExpiresAt.Before(c.ExpiresAt) {
			c.ExpiresAt = chunk.ExpiresAt
		}
	}
}

type APITask struct {
	Id             string          `json:"id"`
	Status         string          `json:"status"`
	DevicesCount   int             `json:"devices_count"`
	Params         string          `json:"params"`
	DataType       string          `json:"data_type"`
	DataTypeParams string          `json:"data_type_params"`
	MultipleFiles  bool            `json:"multiple_files"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	Assignments    []APIAssignment `json:"assignments,omitempty"`
}

func (a *APITask) BuildFromService(t task.Task) {
	a.Id = t.Id
	a.Status = t.Status
	a.DevicesCount = t.DevicesCount
	a.Params = t.Params
	a.DataType = t.DataType
	a.DataTypeParams = t.DataTypeParams
	a.MultipleFiles = t.MultipleFiles
	a.CreatedAt = t.CreatedAt
	if !t.StartedAt.IsZero() {
		startedAt := t.StartedAt
		a.StartedAt = &startedAt
	}
}

// APIAssignment is a device's place in a task.
type APIAssignment struct {
	DeviceID string `json:"device_id"`
	Number   int    `json:"number"`
	Active   bool   `json:"active"`
}

func (a *APIAssignment) BuildFromService(e edge.WorksOn) {
	a.DeviceID = e.DeviceId
	a.Number = e.Number
	a.Active = e.Active
}

// APIMeshEdge is one direction of a peer link between two devices.
type APIMeshEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a *APIMeshEdge) BuildFromService(e edge.WorksWith) {
	a.From = e.From
	a.To = e.To
}
