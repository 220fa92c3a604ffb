package operations

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/environment"
	"github.com/distrain/tracker/service"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

func Service() cli.Command {
	return cli.Command{
		Name:  "service",
		Usage: "run tracker services",
		Subcommands: []cli.Command{
			startWebService(),
		},
	}
}

func startWebService() cli.Command {
	return cli.Command{
		Name:   "web",
		Usage:  "accept device sessions and serve the REST API",
		Flags:  serviceConfigFlags(),
		Before: requireFileExistsIfSet(confFlagName),
		Action: func(c *cli.Context) error {
			settings, err := tracker.NewSettings(c.String(confFlagName))
			if err != nil {
				return errors.Wrap(err, "loading settings")
			}
			if err = settings.Validate(); err != nil {
				return errors.Wrap(err, "validating settings")
			}

			sender, err := settings.Logger.GetSender()
			if err != nil {
				return errors.Wrap(err, "configuring logger")
			}
			defer sender.Close()
			sender.SetName(grip.Name())
			grip.CatchEmergencyFatal(grip.SetSender(sender))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			defer recovery.LogStackTraceAndExit("tracker service")

			env, err := environment.New(ctx, settings)
			if err != nil {
				return errors.Wrap(err, "problem configuring application environment")
			}

			grip.Notice(message.Fields{"build": tracker.BuildRevision, "process": grip.Name()})

			return errors.WithStack(runWebService(ctx, cancel, env))
		},
	}
}

func runWebService(ctx context.Context, cancel context.CancelFunc, env *environment.Environment) error {
	settings := env.Settings()
	coordinator := service.NewCoordinator(env)
	if err := coordinator.Prepare(ctx); err != nil {
		return errors.Wrap(err, "preparing coordinator")
	}

	router, err := service.GetRouter(coordinator)
	if err != nil {
		return errors.Wrap(err, "building router")
	}
	server := service.GetServer(fmt.Sprintf("%s:%d", settings.Service.Host, settings.Service.Port), router)

	go listenForSIGTERM(cancel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer recovery.LogStackTraceAndContinue("scheduler runner")
		return coordinator.Runner.Start(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "serving")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grip.Notice("shutting down service")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), settings.Service.ShutdownWait())
		defer shutdownCancel()

		catcher := grip.NewBasicCatcher()
		catcher.Wrap(server.Shutdown(shutdownCtx), "shutting down HTTP server")
		coordinator.Disconnect()
		catcher.Wrap(env.Close(shutdownCtx), "closing environment")
		return catcher.Resolve()
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	grip.Notice("service terminated")
	return nil
}

// listenForSIGTERM cancels the service context on the first SIGTERM or
// interrupt.
func listenForSIGTERM(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	sig := <-sigChan
	grip.Info(message.Fields{
		"message": "received signal, terminating",
		"signal":  sig.String(),
	})
	cancel()
}
