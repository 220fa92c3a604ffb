package operations

import (
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// requireFileExistsIfSet rejects a path flag that names a missing file.
func requireFileExistsIfSet(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		path := c.String(name)
		if path == "" {
			return nil
		}
		if !utility.FileExists(path) {
			return errors.Errorf("file '%s' does not exist", path)
		}
		return nil
	}
}

func requirePositiveInt(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		if c.Int(name) <= 0 {
			return errors.Errorf("flag '--%s' must be a positive integer", name)
		}
		return nil
	}
}

func mergeBeforeFuncs(ops ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}
