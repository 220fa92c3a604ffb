package operations

import (
	"context"
	"encoding/json"
	"os"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/environment"
	"github.com/distrain/tracker/registry"
	"github.com/distrain/tracker/rest/client"
	restModel "github.com/distrain/tracker/rest/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func Admin() cli.Command {
	return cli.Command{
		Name:  "admin",
		Usage: "administer a tracker deployment",
		Subcommands: []cli.Command{
			resetDevices(),
			submitTask(),
			listTasks(),
			listDevices(),
			triggerScheduler(),
		},
	}
}

func resetDevices() cli.Command {
	return cli.Command{
		Name:   "reset-devices",
		Usage:  "mark every stored device disconnected and release its assignments",
		Flags:  serviceConfigFlags(),
		Before: requireFileExistsIfSet(confFlagName),
		Action: func(c *cli.Context) error {
			settings, err := tracker.NewSettings(c.String(confFlagName))
			if err != nil {
				return errors.Wrap(err, "loading settings")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			env, err := environment.New(ctx, settings)
			if err != nil {
				return errors.Wrap(err, "problem configuring application environment")
			}
			defer func() {
				grip.Warning(message.WrapError(env.Close(ctx), message.Fields{
					"message": "problem closing environment",
				}))
			}()

			return errors.WithStack(registry.New(env.Store(), env.Cache()).Reset(ctx))
		},
	}
}

func submitTask() cli.Command {
	return cli.Command{
		Name:   "submit-task",
		Usage:  "submit a task to a running tracker and print its upload references",
		Flags:  trackerURLFlag(taskSubmissionFlags()...),
		Before: requirePositiveInt(devicesFlagName),
		Action: func(c *cli.Context) error {
			submission := restModel.APITaskSubmission{
				DevicesCount:   c.Int(devicesFlagName),
				Params:         c.String(paramsFlagName),
				DataType:       c.String(dataTypeFlag),
				DataTypeParams: c.String(dataParamsFlag),
				MultipleFiles:  c.Bool(multipleFlag),
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			comm := client.NewCommunicator(c.String(urlFlagName))
			defer comm.Close()

			created, err := comm.SubmitTask(ctx, submission)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
}

func listTasks() cli.Command {
	return cli.Command{
		Name:  "list-tasks",
		Usage: "print the tasks of a running tracker",
		Flags: trackerURLFlag(cli.StringFlag{
			Name:  statusFlagName,
			Usage: "only list tasks with this status",
		}),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			comm := client.NewCommunicator(c.String(urlFlagName))
			defer comm.Close()

			tasks, err := comm.ListTasks(ctx, c.String(statusFlagName))
			if err != nil {
				return err
			}
			return printJSON(tasks)
		},
	}
}

func listDevices() cli.Command {
	return cli.Command{
		Name:  "list-devices",
		Usage: "print the devices known to a running tracker",
		Flags: trackerURLFlag(),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			comm := client.NewCommunicator(c.String(urlFlagName))
			defer comm.Close()

			devices, err := comm.ListDevices(ctx)
			if err != nil {
				return err
			}
			return printJSON(devices)
		},
	}
}

func triggerScheduler() cli.Command {
	return cli.Command{
		Name:  "trigger-scheduler",
		Usage: "ask a running tracker to attempt scheduling now",
		Flags: trackerURLFlag(),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			comm := client.NewCommunicator(c.String(urlFlagName))
			defer comm.Close()

			if err := comm.TriggerScheduler(ctx); err != nil {
				return err
			}
			grip.Info("scheduling attempt requested")
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "printing response")
}
