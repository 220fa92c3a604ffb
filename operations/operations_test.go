package operations

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func contextWith(t *testing.T, flags []cli.Flag, args ...string) *cli.Context {
	set := flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	for _, f := range flags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(nil, set, nil)
}

func TestBeforeFuncs(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "tracker.yml")
	require.NoError(t, os.WriteFile(existing, []byte("service:\n  port: 9100\n"), 0600))

	for name, test := range map[string]struct {
		flags  []cli.Flag
		args   []string
		before cli.BeforeFunc
		fails  bool
	}{
		"UnsetConfigIsAllowed": {
			flags:  serviceConfigFlags(),
			before: requireFileExistsIfSet(confFlagName),
		},
		"ExistingConfig": {
			flags:  serviceConfigFlags(),
			args:   []string{"--conf", existing},
			before: requireFileExistsIfSet(confFlagName),
		},
		"MissingConfig": {
			flags:  serviceConfigFlags(),
			args:   []string{"--conf", existing + ".missing"},
			before: requireFileExistsIfSet(confFlagName),
			fails:  true,
		},
		"PositiveDevices": {
			flags:  taskSubmissionFlags(),
			args:   []string{"--devices", "3"},
			before: requirePositiveInt(devicesFlagName),
		},
		"NoDevices": {
			flags:  taskSubmissionFlags(),
			before: requirePositiveInt(devicesFlagName),
			fails:  true,
		},
		"MergedReportsEveryFailure": {
			flags:  append(serviceConfigFlags(), taskSubmissionFlags()...),
			args:   []string{"--conf", existing + ".missing"},
			before: mergeBeforeFuncs(requireFileExistsIfSet(confFlagName), requirePositiveInt(devicesFlagName)),
			fails:  true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := test.before(contextWith(t, test.flags, test.args...))
			if test.fails {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResetDevicesCommand(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "tracker.yml")
	require.NoError(t, os.WriteFile(conf, []byte("database:\n  type: memory\n"), 0600))

	app := cli.NewApp()
	app.Commands = []cli.Command{Admin()}
	assert.NoError(t, app.Run([]string{"tracker", "admin", "reset-devices", "--conf", conf}))
	assert.Error(t, app.Run([]string{"tracker", "admin", "reset-devices", "--conf", conf + ".missing"}))
}

func TestCommandTree(t *testing.T) {
	names := func(cmds []cli.Command) []string {
		out := []string{}
		for _, cmd := range cmds {
			out = append(out, cmd.Name)
		}
		return out
	}

	assert.Equal(t, []string{"web"}, names(Service().Subcommands))
	assert.Equal(t, []string{"reset-devices", "submit-task", "list-tasks", "list-devices", "trigger-scheduler"}, names(Admin().Subcommands))
}
