package service

import (
	"context"
	"fmt"

	"github.com/distrain/tracker"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var packageName = fmt.Sprintf("%s%s", tracker.PackageName, "/service")

const connectedDevicesInstrument = "tracker.devices.connected"

// instrumentMeter reports the number of devices with a live session.
func instrumentMeter(meter metric.Meter, c *Coordinator) error {
	connected, err := meter.Int64ObservableGauge(connectedDevicesInstrument,
		metric.WithDescription("Devices with an open session"))
	if err != nil {
		return errors.Wrap(err, "making connected devices gauge")
	}

	_, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(connected, int64(c.Registry.Connected()))
		return nil
	}, connected)
	return errors.Wrap(err, "registering connected devices callback")
}

func globalMeter() metric.Meter {
	return otel.GetMeterProvider().Meter(packageName)
}
