package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

type resolveOpts struct {
	*rootOpts
	IDsOnly bool
}

func newResolve(parent *rootOpts) *resolveOpts {
	return &resolveOpts{rootOpts: parent}
}

func (opts *resolveOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resolve <hymn-id>...",
		Short:   "Print the authors of the given hymns as JSON.",
		Example: "hymnauthors resolve 3f1c 9a2e",
		RunE:    opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.IDsOnly, "ids-only", false, "print author ids instead of authors")
	return cmd
}

func (opts *resolveOpts) RunE(cmd *cobra.Command, args []string) (err error) {
	defer func() {
		if closeErr := opts.Close(); err == nil {
			err = closeErr
		}
	}()

	if len(args) == 0 {
		return errorWantedHymnIDs
	}

	var result interface{}
	if opts.IDsOnly {
		result, err = opts.Service.AuthorIDs(cmd.Context(), args)
	} else {
		result, err = opts.Service.AuthorsForHymns(cmd.Context(), args)
	}
	if err != nil {
		return err
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(result)
}
