// Command voicedraft inspects and repairs the voicedraft database from the
// terminal: list recorded lectures and projects, print generated outputs and
// drafts, rerun output generation for a lecture, and generate study
// flashcards from a lecture transcription.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"voicedraft/internal/config"
)

// options is the root command that groups sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type options struct {
	Config string `short:"f" long:"config" description:"config file path"`

	Projects *projectsCmd `command:"projects" description:"List active projects"`
	Lectures *lecturesCmd `command:"lectures" description:"List active lectures"`
	Outputs    *outputsCmd    `command:"outputs" description:"Print generated outputs for a lecture"`
	Regen      *regenCmd      `command:"regen" description:"Regenerate outputs for a lecture"`
	Draft      *draftCmd      `command:"draft" description:"Print the current draft of a project"`
	Flashcards *flashcardsCmd `command:"flashcards" description:"Generate study flashcards from a lecture"`
}

func main() {
	opts := &options{
		Projects:   &projectsCmd{},
		Lectures:   &lecturesCmd{},
		Outputs:    &outputsCmd{},
		Regen:      &regenCmd{},
		Draft:      &draftCmd{},
		Flashcards: &flashcardsCmd{},
	}
	opts.Projects.root = opts
	opts.Lectures.root = opts
	opts.Outputs.root = opts
	opts.Regen.root = opts
	opts.Draft.root = opts
	opts.Flashcards.root = opts

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) loadConfig() (config.Config, error) {
	if o.Config != "" {
		return config.LoadFrom(o.Config)
	}
	return config.Load()
}
