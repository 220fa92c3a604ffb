package route

import (
	"context"
	"fmt"
	"net/http"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/task"
	restModel "github.com/distrain/tracker/rest/model"
	"github.com/distrain/tracker/storage"
	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentSigning bounds the presign calls of one submission.
const maxConcurrentSigning = 8

////////////////////////////////////////////////////////////////////////
//
// POST /rest/v1/tasks

type submitTaskHandler struct {
	tasks   TaskQueue
	objects storage.ObjectStore
	trigger Trigger

	submission restModel.APITaskSubmission
}

func makeSubmitTask(tasks TaskQueue, objects storage.ObjectStore, trigger Trigger) gimlet.RouteHandler {
	return &submitTaskHandler{tasks: tasks, objects: objects, trigger: trigger}
}

func (h *submitTaskHandler) Factory() gimlet.RouteHandler {
	return &submitTaskHandler{tasks: h.tasks, objects: h.objects, trigger: h.trigger}
}

func (h *submitTaskHandler) Parse(ctx context.Context, r *http.Request) error {
	h.submission = restModel.APITaskSubmission{}
	if err := utility.ReadJSON(r.Body, &h.submission); err != nil {
		return gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    errors.Wrap(err, "reading task submission from JSON request body").Error(),
		}
	}

	opts := h.submission.ToService()
	if err := opts.Validate(); err != nil {
		return gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		}
	}

	return nil
}

func (h *submitTaskHandler) Run(ctx context.Context) gimlet.Responder {
	t, err := h.tasks.Submit(ctx, h.submission.ToService())
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrap(err, "submitting task"))
	}

	metadata, chunks, err := h.sign(ctx, *t)
	if err != nil {
		// the task stays queued; its data can be signed again later
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrapf(err, "signing upload references for task '%s'", t.Id))
	}

	out := restModel.APITaskCreated{}
	out.BuildFromService(*t, metadata, chunks)

	h.trigger.Trigger()

	responder := gimlet.NewJSONResponse(out)
	if err = responder.SetStatus(http.StatusCreated); err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrapf(err, "setting HTTP status code to %d", http.StatusCreated))
	}
	return responder
}

func (h *submitTaskHandler) sign(ctx context.Context, t task.Task) (storage.SignedURL, []storage.SignedURL, error) {
	metadata, err := h.objects.UploadURL(ctx, storage.MetadataKey(t.Id))
	if err != nil {
		return storage.SignedURL{}, nil, errors.Wrap(err, "signing metadata upload")
	}

	chunks := make([]storage.SignedURL, t.DevicesCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSigning)
	for rank := range chunks {
		g.Go(func() error {
			chunk, err := h.objects.UploadURL(gctx, storage.ChunkKey(t.Id, rank))
			if err != nil {
				return errors.Wrapf(err, "signing chunk %d upload", rank)
			}
			chunks[rank] = chunk
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "could not sign task uploads",
			"task":    t.Id,
		}))
		return storage.SignedURL{}, nil, err
	}

	return metadata, chunks, nil
}

////////////////////////////////////////////////////////////////////////
//
// GET /rest/v1/tasks

type listTasksHandler struct {
	tasks  TaskQueue
	status string
}

func makeListTasks(tasks TaskQueue) gimlet.RouteHandler {
	return &listTasksHandler{tasks: tasks}
}

func (h *listTasksHandler) Factory() gimlet.RouteHandler {
	return &listTasksHandler{tasks: h.tasks}
}

func (h *listTasksHandler) Parse(ctx context.Context, r *http.Request) error {
	h.status = r.URL.Query().Get("status")
	if h.status != "" && !tracker.IsValidTaskStatus(h.status) {
		return gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("invalid task status '%s'", h.status),
		}
	}
	return nil
}

func (h *listTasksHandler) Run(ctx context.Context) gimlet.Responder {
	tasks, err := h.tasks.List(ctx, h.status)
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrap(err, "listing tasks"))
	}

	out := make([]restModel.APITask, 0, len(tasks))
	for _, t := range tasks {
		apiTask := restModel.APITask{}
		apiTask.BuildFromService(t)
		out = append(out, apiTask)
	}
	return gimlet.NewJSONResponse(out)
}

////////////////////////////////////////////////////////////////////////
//
// GET /rest/v1/tasks/{task_id}

type getTaskHandler struct {
	tasks  TaskQueue
	edges  EdgeStore
	taskID string
}

func makeGetTask(tasks TaskQueue, edges EdgeStore) gimlet.RouteHandler {
	return &getTaskHandler{tasks: tasks, edges: edges}
}

func (h *getTaskHandler) Factory() gimlet.RouteHandler {
	return &getTaskHandler{tasks: h.tasks, edges: h.edges}
}

func (h *getTaskHandler) Parse(ctx context.Context, r *http.Request) error {
	h.taskID = gimlet.GetVars(r)["task_id"]
	return nil
}

func (h *getTaskHandler) Run(ctx context.Context) gimlet.Responder {
	t, resp := findTask(ctx, h.tasks, h.taskID)
	if resp != nil {
		return resp
	}

	assignments, err := h.edges.FindWorksOn(ctx, db.WorksOnQuery{TaskId: h.taskID})
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrapf(err, "finding assignments of task '%s'", h.taskID))
	}

	out := restModel.APITask{}
	out.BuildFromService(*t)
	out.Assignments = make([]restModel.APIAssignment, 0, len(assignments))
	for _, a := range assignments {
		apiAssignment := restModel.APIAssignment{}
		apiAssignment.BuildFromService(a)
		out.Assignments = append(out.Assignments, apiAssignment)
	}
	return gimlet.NewJSONResponse(out)
}

////////////////////////////////////////////////////////////////////////
//
// GET /rest/v1/tasks/{task_id}/mesh

type getTaskMeshHandler struct {
	tasks  TaskQueue
	edges  EdgeStore
	taskID string
}

func makeGetTaskMesh(tasks TaskQueue, edges EdgeStore) gimlet.RouteHandler {
	return &getTaskMeshHandler{tasks: tasks, edges: edges}
}

func (h *getTaskMeshHandler) Factory() gimlet.RouteHandler {
	return &getTaskMeshHandler{tasks: h.tasks, edges: h.edges}
}

func (h *getTaskMeshHandler) Parse(ctx context.Context, r *http.Request) error {
	h.taskID = gimlet.GetVars(r)["task_id"]
	return nil
}

func (h *getTaskMeshHandler) Run(ctx context.Context) gimlet.Responder {
	if _, resp := findTask(ctx, h.tasks, h.taskID); resp != nil {
		return resp
	}

	edges, err := h.edges.FindWorksWith(ctx, h.taskID)
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrapf(err, "finding mesh of task '%s'", h.taskID))
	}

	out := make([]restModel.APIMeshEdge, 0, len(edges))
	for _, e := range edges {
		apiEdge := restModel.APIMeshEdge{}
		apiEdge.BuildFromService(e)
		out = append(out, apiEdge)
	}
	return gimlet.NewJSONResponse(out)
}

func findTask(ctx context.Context, tasks TaskQueue, id string) (*task.Task, gimlet.Responder) {
	t, err := tasks.Get(ctx, id)
	if err != nil {
		return nil, gimlet.MakeJSONInternalErrorResponder(errors.Wrapf(err, "finding task '%s'", id))
	}
	if t == nil {
		return nil, gimlet.MakeJSONErrorResponder(gimlet.ErrorResponse{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("task '%s' not found", id),
		})
	}
	return t, nil
}
