package cl

import (
	"fmt"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
)

// Event tracks the execution of one enqueued command. It can be waited on, and passed in the wait list of
// later commands.
type Event struct {
	queue   *Queue
	h       *handle[driver.EventID]
	cmdType driver.CommandType
}

func newEvent(q *Queue, id driver.EventID, cmdType driver.CommandType) *Event {
	e := &Event{queue: q, cmdType: cmdType}
	e.h = newHandle(e, q.ctx.state, id, &eventsAlive, "ReleaseEvent", q.ctx.state.drv.ReleaseEvent)
	return e
}

// check returns an error if the event or its context were released.
func (e *Event) check() error {
	if e == nil || !e.h.valid() {
		return releasedError("Event")
	}
	return nil
}

// Queue where the command was enqueued.
func (e *Event) Queue() *Queue { return e.queue }

// CommandType of the command the event tracks.
func (e *Event) CommandType() driver.CommandType { return e.cmdType }

// Status returns the execution status of the command. Negative values are the error status the command
// failed with.
func (e *Event) Status() (driver.ExecutionStatus, error) {
	if err := e.check(); err != nil {
		return driver.ExecQueued, err
	}
	value, err := queryUint("GetEventInfo", func(dst []byte) (int, driver.Status) {
		return e.queue.ctx.state.drv.GetEventInfo(e.h.id, driver.EventCommandExecutionStatus, dst)
	})
	if err != nil {
		return driver.ExecQueued, err
	}
	return driver.ExecutionStatus(int32(uint32(value))), nil
}

// Await blocks until the command completes. If it failed, the error holds a *StatusError with the status of
// the command. Failed buffer transfers are also in the ErrTransfer category.
func (e *Event) Await() error {
	if err := e.check(); err != nil {
		return err
	}
	status := e.queue.ctx.state.drv.WaitForEvents([]driver.EventID{e.h.id})
	if status.Ok() {
		return nil
	}
	return e.failure(status)
}

// failure converts the failed status of the command to an error.
func (e *Event) failure(waitStatus driver.Status) error {
	execStatus, err := e.Status()
	if err != nil {
		return errors.WithMessagef(err, "WaitForEvents returned %s, and querying the %s status failed", waitStatus, e.cmdType)
	}
	if execStatus >= 0 {
		return statusError("WaitForEvents", waitStatus)
	}
	err = statusError(e.cmdType.String(), driver.Status(execStatus))
	if e.cmdType == driver.CommandReadBuffer || e.cmdType == driver.CommandWriteBuffer {
		return inCategory(ErrTransfer, err)
	}
	return err
}

// Release the event. The command is not affected. It is a no-op if already released.
func (e *Event) Release() error {
	if e == nil {
		return nil
	}
	return e.h.destroy()
}

// AwaitAndRelease waits for the command and releases the event. The event is released even if the command
// failed.
func (e *Event) AwaitAndRelease() error {
	err := e.Await()
	if releaseErr := e.Release(); err == nil {
		err = releaseErr
	}
	return err
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	if e == nil {
		return "Event(nil)"
	}
	return fmt.Sprintf("Event(%s)", e.cmdType)
}

// WaitForEvents blocks until all the commands complete. If any of them failed, it returns the error of the
// first one that did, in the order given.
func WaitForEvents(events ...*Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]driver.EventID, len(events))
	for i, e := range events {
		if err := e.check(); err != nil {
			return errors.WithMessagef(err, "WaitForEvents event #%d", i)
		}
		if e.queue.ctx.state != events[0].queue.ctx.state {
			return errors.Errorf("WaitForEvents given events of different contexts")
		}
		ids[i] = e.h.id
	}
	status := events[0].queue.ctx.state.drv.WaitForEvents(ids)
	if status.Ok() {
		return nil
	}
	for i, e := range events {
		execStatus, err := e.Status()
		if err != nil || execStatus < 0 {
			return errors.WithMessagef(e.failure(status), "WaitForEvents event #%d", i)
		}
	}
	return statusError("WaitForEvents", status)
}

// eventIDs converts a wait list to driver handles. All events must belong to the context.
func eventIDs(c *Context, events []*Event) ([]driver.EventID, error) {
	if len(events) == 0 {
		return nil, nil
	}
	ids := make([]driver.EventID, len(events))
	for i, e := range events {
		if err := e.check(); err != nil {
			return nil, errors.WithMessagef(err, "wait list event #%d", i)
		}
		if e.queue.ctx.state != c.state {
			return nil, errors.Errorf("wait list event #%d belongs to a different context", i)
		}
		ids[i] = e.h.id
	}
	return ids, nil
}
