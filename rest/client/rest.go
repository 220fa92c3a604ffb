package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/distrain/tracker/rest/model"
	"github.com/pkg/errors"
)

func (c *communicatorImpl) SubmitTask(ctx context.Context, submission model.APITaskSubmission) (*model.APITaskCreated, error) {
	info := requestInfo{
		method: http.MethodPost,
		path:   "tasks",
	}
	created := &model.APITaskCreated{}
	if err := c.retryRequest(ctx, info, submission, created); err != nil {
		return nil, errors.Wrap(err, "submitting task")
	}
	return created, nil
}

func (c *communicatorImpl) GetTask(ctx context.Context, id string) (*model.APITask, error) {
	info := requestInfo{
		method: http.MethodGet,
		path:   fmt.Sprintf("tasks/%s", url.PathEscape(id)),
	}
	t := &model.APITask{}
	if err := c.retryRequest(ctx, info, nil, t); err != nil {
		return nil, errors.Wrapf(err, "getting task '%s'", id)
	}
	return t, nil
}

func (c *communicatorImpl) ListTasks(ctx context.Context, status string) ([]model.APITask, error) {
	info := requestInfo{
		method: http.MethodGet,
		path:   "tasks",
	}
	if status != "" {
		info.path += "?status=" + url.QueryEscape(status)
	}
	tasks := []model.APITask{}
	if err := c.retryRequest(ctx, info, nil, &tasks); err != nil {
		return nil, errors.Wrap(err, "listing tasks")
	}
	return tasks, nil
}

func (c *communicatorImpl) GetTaskMesh(ctx context.Context, id string) ([]model.APIMeshEdge, error) {
	info := requestInfo{
		method: http.MethodGet,
		path:   fmt.Sprintf("tasks/%s/mesh", url.PathEscape(id)),
	}
	edges := []model.APIMeshEdge{}
	if err := c.retryRequest(ctx, info, nil, &edges); err != nil {
		return nil, errors.Wrapf(err, "getting mesh of task '%s'", id)
	}
	return edges, nil
}

func (c *communicatorImpl) ListDevices(ctx context.Context) ([]model.APIDevice, error) {
	info := requestInfo{
		method: http.MethodGet,
		path:   "devices",
	}
	devices := []model.APIDevice{}
	if err := c.retryRequest(ctx, info, nil, &devices); err != nil {
		return nil, errors.Wrap(err, "listing devices")
	}
	return devices, nil
}

func (c *communicatorImpl) GetDevice(ctx context.Context, id string) (*model.APIDevice, error) {
	info := requestInfo{
		method: http.MethodGet,
		path:   fmt.Sprintf("devices/%s", url.PathEscape(id)),
	}
	d := &model.APIDevice{}
	if err := c.retryRequest(ctx, info, nil, d); err != nil {
		return nil, errors.Wrapf(err, "getting device '%s'", id)
	}
	return d, nil
}

func (c *communicatorImpl) TriggerScheduler(ctx context.Context) error {
	info := requestInfo{
		method: http.MethodPost,
		path:   "scheduler/trigger",
	}
	return errors.Wrap(c.retryRequest(ctx, info, nil, nil), "triggering scheduler")
}
