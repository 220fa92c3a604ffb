package route

import (
	"context"
	"fmt"
	"net/http"

	restModel "github.com/distrain/tracker/rest/model"
	"github.com/evergreen-ci/gimlet"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

////////////////////////////////////////////////////////////////////////
//
// GET /rest/v1/devices

type listDevicesHandler struct {
	devices DeviceRegistry
}

func makeListDevices(devices DeviceRegistry) gimlet.RouteHandler {
	return &listDevicesHandler{devices: devices}
}

func (h *listDevicesHandler) Factory() gimlet.RouteHandler {
	return &listDevicesHandler{devices: h.devices}
}

func (h *listDevicesHandler) Parse(ctx context.Context, r *http.Request) error { return nil }

func (h *listDevicesHandler) Run(ctx context.Context) gimlet.Responder {
	devices, err := h.devices.Devices(ctx)
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrap(err, "listing devices"))
	}

	out := make([]restModel.APIDevice, 0, len(devices))
	for _, d := range devices {
		apiDevice := restModel.APIDevice{}
		apiDevice.BuildFromService(d)
		_, apiDevice.Connected = h.devices.GetSocket(d.Id)
		out = append(out, apiDevice)
	}
	return gimlet.NewJSONResponse(out)
}

////////////////////////////////////////////////////////////////////////
//
// GET /rest/v1/devices/{device_id}

type getDeviceHandler struct {
	devices  DeviceRegistry
	deviceID string
}

func makeGetDevice(devices DeviceRegistry) gimlet.RouteHandler {
	return &getDeviceHandler{devices: devices}
}

func (h *getDeviceHandler) Factory() gimlet.RouteHandler {
	return &getDeviceHandler{devices: h.devices}
}

func (h *getDeviceHandler) Parse(ctx context.Context, r *http.Request) error {
	h.deviceID = gimlet.GetVars(r)["device_id"]
	return nil
}

func (h *getDeviceHandler) Run(ctx context.Context) gimlet.Responder {
	d, err := h.devices.Device(ctx, h.deviceID)
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.Wrapf(err, "finding device '%s'", h.deviceID))
	}
	if d == nil {
		return gimlet.MakeJSONErrorResponder(gimlet.ErrorResponse{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("device '%s' not found", h.deviceID),
		})
	}

	out := restModel.APIDevice{}
	out.BuildFromService(*d)
	_, out.Connected = h.devices.GetSocket(d.Id)

	cached, ok, err := h.devices.CachedStatus(ctx, d.Id)
	grip.Warning(message.WrapError(err, message.Fields{
		"message": "could not read cached device status",
		"device":  d.Id,
	}))
	if ok {
		out.CachedStatus = cached
	}

	return gimlet.NewJSONResponse(out)
}
