package session

import (
	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
	"github.com/mcdev12/questroom/go/internal/questroom/gateway"
	"github.com/mcdev12/questroom/go/internal/questroom/reconciler"
)

// message is anything the session loop accepts on its inbox.
type message interface{ isMessage() }

type inboundEvent struct {
	env events.Envelope
}

type statusChanged struct {
	status gateway.Status
}

type snapshotLoaded struct {
	epoch uint64
	snap  reconciler.Snapshot
	tasks []models.Task
	err   error
}

type retrySnapshot struct {
	epoch uint64
}

type resync struct{}

type timersFired struct{}

type getView struct {
	reply chan View
}

func (inboundEvent) isMessage()   {}
func (statusChanged) isMessage()  {}
func (snapshotLoaded) isMessage() {}
func (retrySnapshot) isMessage()  {}
func (resync) isMessage()         {}
func (timersFired) isMessage()    {}
func (getView) isMessage()        {}
