package operations

import (
	"strings"

	"github.com/urfave/cli"
)

const (
	confFlagName    = "conf"
	urlFlagName     = "url"
	statusFlagName  = "status"
	devicesFlagName = "devices"
	paramsFlagName  = "params"
	dataTypeFlag    = "data-type"
	dataParamsFlag  = "data-type-params"
	multipleFlag    = "multiple-files"
)

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func serviceConfigFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(confFlagName, "config", "c"),
		Usage: "path to the service configuration file; defaults and environment overrides apply when empty",
	})
}

func trackerURLFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:   joinFlagNames(urlFlagName, "u"),
		Usage:  "base URL of a running tracker",
		Value:  "http://localhost:9001",
		EnvVar: "TRACKER_URL",
	})
}

func taskSubmissionFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.IntFlag{
			Name:  joinFlagNames(devicesFlagName, "n"),
			Usage: "number of devices the task requires",
		},
		cli.StringFlag{
			Name:  paramsFlagName,
			Usage: "opaque training parameters, passed through to devices",
		},
		cli.StringFlag{
			Name:  dataTypeFlag,
			Usage: "kind of data the task trains on",
		},
		cli.StringFlag{
			Name:  dataParamsFlag,
			Usage: "parameters describing the data",
		},
		cli.BoolFlag{
			Name:  multipleFlag,
			Usage: "the data is split across several files per chunk",
		},
	)
}
