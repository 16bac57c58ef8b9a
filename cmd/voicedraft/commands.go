package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"voicedraft/internal/bootstrap"
	"voicedraft/internal/domain"
	"voicedraft/internal/store"
)

// openStore opens the database read path without building the full runtime
// graph, so listing commands work without any API keys configured.
func openStore(root *options) (*store.Store, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = store.DefaultDBPath()
	}
	return store.Open(path)
}

type projectsCmd struct {
	root *options
}

func (c *projectsCmd) Execute(_ []string) error {
	st, err := openStore(c.root)
	if err != nil {
		return err
	}
	defer st.Close()

	projects, err := st.ActiveProjects(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTAGS\tLECTURES\tUPDATED")
	for _, p := range projects {
		linked := "0"
		if p.LinkedLectureIDs != "" {
			linked = fmt.Sprintf("%d", len(strings.Split(p.LinkedLectureIDs, ",")))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			p.ID, p.Title, p.Tags, linked, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

type lecturesCmd struct {
	root *options
}

func (c *lecturesCmd) Execute(_ []string) error {
	st, err := openStore(c.root)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	lectures, err := st.ActiveLectures(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tWORDS\tDURATION\tOUTPUTS\tRECORDED")
	for _, l := range lectures {
		outputs, err := st.OutputsForLecture(ctx, l.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%ds\t%d/%d\t%s\n",
			l.ID, l.Title, l.WordCount, l.DurationSeconds,
			len(outputs), len(domain.OutputTypes()),
			l.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

type outputsCmd struct {
	root *options

	Lecture int64 `long:"lecture" required:"true" description:"lecture id"`
}

func (c *outputsCmd) Execute(_ []string) error {
	st, err := openStore(c.root)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	lecture, err := st.Lecture(ctx, c.Lecture)
	if err != nil {
		return fmt.Errorf("lecture %d: %w", c.Lecture, err)
	}
	outputs, err := st.OutputsForLecture(ctx, lecture.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%d words, %ds)\n", lecture.Title, lecture.WordCount, lecture.DurationSeconds)
	present := make(map[domain.OutputType]domain.LectureOutput, len(outputs))
	for _, output := range outputs {
		present[output.Type] = output
	}
	for _, typ := range domain.OutputTypes() {
		fmt.Printf("\n== %s ==\n", typ)
		if output, ok := present[typ]; ok {
			fmt.Println(output.Content)
		} else {
			fmt.Println("(missing; run `voicedraft regen` to generate)")
		}
	}
	return nil
}

type regenCmd struct {
	root *options

	Lecture int64 `long:"lecture" required:"true" description:"lecture id"`
}

func (c *regenCmd) Execute(_ []string) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return err
	}
	services, err := bootstrap.BuildWith(cfg, nil)
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Lecture().RegenerateOutputs(context.Background(), c.Lecture); err != nil {
		return err
	}
	fmt.Printf("regenerated outputs for lecture %d\n", c.Lecture)
	return nil
}

type flashcardsCmd struct {
	root *options

	Lecture int64 `long:"lecture" required:"true" description:"lecture id"`
}

func (c *flashcardsCmd) Execute(_ []string) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return err
	}
	services, err := bootstrap.BuildWith(cfg, nil)
	if err != nil {
		return err
	}
	defer services.Close()

	cards, err := services.Lecture().Flashcards(context.Background(), c.Lecture)
	if err != nil {
		return err
	}
	fmt.Println(cards)
	return nil
}

type draftCmd struct {
	root *options

	Project int64 `long:"project" required:"true" description:"project id"`
}

func (c *draftCmd) Execute(_ []string) error {
	st, err := openStore(c.root)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.Project(ctx, c.Project); err != nil {
		return fmt.Errorf("project %d: %w", c.Project, err)
	}
	draft, err := st.CurrentDraft(ctx, c.Project)
	if err != nil {
		return err
	}
	if draft == nil {
		fmt.Println("(no draft yet; finish a voice session first)")
		return nil
	}
	fmt.Printf("draft v%d (%s)\n\n%s\n", draft.Version, draft.UpdatedAt.Format("2006-01-02 15:04"), draft.Content)
	return nil
}
