package route

import (
	"context"
	"net/http"

	"github.com/evergreen-ci/gimlet"
)

////////////////////////////////////////////////////////////////////////
//
// POST /rest/v1/scheduler/trigger

type triggerSchedulerHandler struct {
	trigger Trigger
}

func makeTriggerScheduler(trigger Trigger) gimlet.RouteHandler {
	return &triggerSchedulerHandler{trigger: trigger}
}

func (h *triggerSchedulerHandler) Factory() gimlet.RouteHandler {
	return &triggerSchedulerHandler{trigger: h.trigger}
}

func (h *triggerSchedulerHandler) Parse(ctx context.Context, r *http.Request) error { return nil }

func (h *triggerSchedulerHandler) Run(ctx context.Context) gimlet.Responder {
	h.trigger.Trigger()

	responder := gimlet.NewJSONResponse(struct{}{})
	if err := responder.SetStatus(http.StatusAccepted); err != nil {
		return gimlet.MakeJSONInternalErrorResponder(err)
	}
	return responder
}
