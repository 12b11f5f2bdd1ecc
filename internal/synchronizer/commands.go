package synchronizer

import (
	"context"
	"time"

	"github.com/user/mapic/pkg/imagegen"
)

// command is a message handled by the actor goroutine.
type command interface{ isCommand() }

type baseCmd struct{}

func (baseCmd) isCommand() {}

type generateResult struct {
	gen imagegen.Generation
	err error
}

type submitCmd struct {
	baseCmd
	ctx    context.Context
	prompt string
	model  string
	reply  chan generateResult
}

type generateDoneCmd struct {
	baseCmd
	epoch   uint64
	req     imagegen.GenerateRequest
	gen     imagegen.Generation
	err     error
	started time.Time
	reply   chan generateResult
}

type deleteCmd struct {
	baseCmd
	ctx   context.Context
	id    string
	reply chan error
}

type deleteDoneCmd struct {
	baseCmd
	epoch  uint64
	userID string
	id     string
	err    error
	reply  chan error
}

type selectCmd struct {
	baseCmd
	id    string
	reply chan error
}

type newSessionCmd struct {
	baseCmd
	reply chan error
}

type signInCmd struct {
	baseCmd
	ctx    context.Context
	userID string
	reply  chan error
}

type signOutCmd struct {
	baseCmd
	reply chan error
}

type refreshCmd struct {
	baseCmd
	ctx   context.Context
	reply chan error
}

type fetchDoneCmd struct {
	baseCmd
	epoch   uint64
	userID  string
	records []imagegen.Generation
	err     error
	reply   chan error
}

type closeCmd struct {
	baseCmd
}
