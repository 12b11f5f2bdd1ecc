package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/pkg/imagegen"
)

const shellHelp = `Commands:
  gen <prompt>     generate an image (runs in the background)
  model [id]       show or set the model for gen
  list             show history (* marks the selection)
  show             show the selected generation
  select <id>      select a generation from history
  delete <id>      delete a generation
  new              start a new session (clears the selection)
  refresh          reload history from the service
  link             print the selected image's public URL
  download [id]    save an image to the local cache (default: selected)
  help             show this help
  quit             exit
`

// saveFunc caches the image of a generation and returns its local path.
type saveFunc func(ctx context.Context, userID string, gen imagegen.Generation) (string, error)

// shell is a line-oriented driver of a Synchronizer.
type shell struct {
	sync  *synchronizer.Synchronizer
	save  saveFunc
	model string

	mu  sync.Mutex
	out io.Writer
	bg  sync.WaitGroup
}

func newShell(s *synchronizer.Synchronizer, save saveFunc, model string, out io.Writer) *shell {
	return &shell{sync: s, save: save, model: model, out: out}
}

func (sh *shell) printf(format string, args ...any) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) fail(err error) {
	sh.printf("error: %s\n", imagegen.UserMessage(err))
}

// run reads commands from in until quit or EOF, then waits for background
// generations.
func (sh *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		sh.printf("> ")
		if !scanner.Scan() {
			break
		}
		if !sh.execute(ctx, scanner.Text()) {
			break
		}
	}
	sh.bg.Wait()
	return scanner.Err()
}

// execute runs one command line and reports whether the shell should go on.
func (sh *shell) execute(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "quit", "exit":
		return false
	case "help":
		sh.printf("%s", shellHelp)
	case "gen":
		sh.generate(ctx, arg)
	case "model":
		if arg == "" {
			sh.printf("model: %s\n", sh.model)
			break
		}
		if err := imagegen.ValidateModel(arg); err != nil {
			sh.fail(err)
			break
		}
		sh.model = arg
	case "list":
		sh.list()
	case "show":
		sh.show()
	case "select":
		if err := sh.sync.SelectFromHistory(arg); err != nil {
			sh.fail(err)
		}
	case "delete":
		if err := sh.sync.DeleteGeneration(ctx, arg); err != nil {
			sh.fail(err)
			break
		}
		sh.printf("deleted %s\n", arg)
	case "new":
		if err := sh.sync.StartNewSession(); err != nil {
			sh.fail(err)
		}
	case "refresh":
		if err := sh.sync.Refresh(ctx); err != nil {
			sh.fail(err)
			break
		}
		sh.printf("%d generation(s)\n", len(sh.sync.Snapshot().History))
	case "link":
		gen, ok := sh.sync.Snapshot().SelectedGeneration()
		if !ok {
			sh.printf("nothing selected\n")
			break
		}
		if gen.Pending() {
			sh.printf("%s has no image yet\n", gen.ID)
			break
		}
		sh.printf("%s\n", gen.PublicURL)
	case "download":
		sh.download(ctx, arg)
	default:
		sh.printf("unknown command %q (try help)\n", cmd)
	}
	return true
}

func (sh *shell) generate(ctx context.Context, prompt string) {
	// Reject locally so the busy and validation errors print immediately.
	if sh.sync.Snapshot().Generating {
		sh.fail(synchronizer.ErrBusy)
		return
	}
	if err := imagegen.ValidatePrompt(prompt); err != nil {
		sh.fail(err)
		return
	}

	model := sh.model
	sh.printf("generating...\n")
	sh.bg.Add(1)
	go func() {
		defer sh.bg.Done()
		gen, err := sh.sync.SubmitGeneration(ctx, prompt, model)
		if err != nil {
			sh.fail(err)
			return
		}
		sh.printf("generated %s %s\n", gen.ID, gen.PublicURL)
	}()
}

func (sh *shell) list() {
	snap := sh.sync.Snapshot()
	if len(snap.History) == 0 {
		sh.printf("no generations\n")
		return
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for _, g := range snap.History {
		mark := " "
		if g.ID == snap.Selected {
			mark = "*"
		}
		fmt.Fprintf(sh.out, "%s %s  %s\n", mark, g.ID, truncate(g.Prompt, 60))
	}
}

func (sh *shell) show() {
	snap := sh.sync.Snapshot()
	gen, ok := snap.SelectedGeneration()
	if !ok {
		if snap.Generating {
			sh.printf("generating...\n")
		} else {
			sh.printf("nothing selected\n")
		}
		return
	}
	sh.printf("id:     %s\nmodel:  %s\nprompt: %s\nurl:    %s\n", gen.ID, gen.Model, gen.Prompt, gen.PublicURL)
}

func (sh *shell) download(ctx context.Context, id string) {
	snap := sh.sync.Snapshot()
	var (
		gen imagegen.Generation
		ok  bool
	)
	if id == "" {
		gen, ok = snap.SelectedGeneration()
	} else {
		gen, ok = snap.Find(id)
	}
	if !ok {
		sh.fail(errors.New("generation not found"))
		return
	}
	path, err := sh.save(ctx, snap.UserID, gen)
	if err != nil {
		sh.fail(err)
		return
	}
	sh.printf("saved %s\n", path)
}
