package cl

import (
	"fmt"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Ordering of the execution of the commands of a Queue.
type Ordering int

const (
	// InOrder queues execute commands one at a time, in the order they were enqueued.
	InOrder Ordering = iota

	// OutOfOrder queues start a command as soon as the events in its wait list completed. Use wait lists or
	// Queue.EnqueueBarrier to order commands.
	OutOfOrder
)

// String implements fmt.Stringer.
func (o Ordering) String() string {
	switch o {
	case InOrder:
		return "InOrder"
	case OutOfOrder:
		return "OutOfOrder"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// Queue submits commands (kernel launches and buffer transfers) to one device of a Context.
type Queue struct {
	ctx      *Context
	device   *Device
	ordering Ordering
	h        *handle[driver.QueueID]
}

// NewQueue creates a command queue for the device, which must be part of the context.
func (c *Context) NewQueue(device *Device, ordering Ordering) (*Queue, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if !c.HasDevice(device) {
		return nil, errors.Errorf("NewQueue given %s, which is not part of the context", device)
	}
	var properties driver.QueueProperties
	switch ordering {
	case InOrder:
	case OutOfOrder:
		properties |= driver.QueueOutOfOrderExecModeEnable
	default:
		return nil, errors.Errorf("NewQueue given invalid %s", ordering)
	}
	id, status := c.state.drv.CreateCommandQueue(c.state.id, device.id, properties)
	if err := statusError("CreateCommandQueue", status); err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s queue for %s", ordering, device)
	}
	q := &Queue{ctx: c, device: device, ordering: ordering}
	q.h = newHandle(q, c.state, id, &queuesAlive, "ReleaseCommandQueue", c.state.drv.ReleaseCommandQueue)
	return q, nil
}

// check returns an error if the queue or its context were released.
func (q *Queue) check() error {
	if q == nil || !q.h.valid() {
		return releasedError("Queue")
	}
	return nil
}

// Context of the queue.
func (q *Queue) Context() *Context { return q.ctx }

// Device the queue submits commands to.
func (q *Queue) Device() *Device { return q.device }

// Ordering of the queue.
func (q *Queue) Ordering() Ordering { return q.ordering }

// String implements fmt.Stringer.
func (q *Queue) String() string {
	if q == nil {
		return "Queue(nil)"
	}
	return fmt.Sprintf("Queue(%s, %s)", q.device, q.ordering)
}

// Release the queue. It blocks until the commands already enqueued complete. It is a no-op if already released.
func (q *Queue) Release() error {
	if q == nil {
		return nil
	}
	return q.h.destroy()
}

// EnqueueKernel enqueues the execution of the kernel over the global work size, split in work-groups of the
// local work size. global and local have 1 to 3 dimensions. If local is nil, the driver picks the work-group
// size.
//
// All the arguments of the kernel must have been set, otherwise it fails with ErrUnboundArgument without
// submitting anything.
func (q *Queue) EnqueueKernel(k *Kernel, global, local []int, waitFor ...*Event) (*Event, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	if err := k.check(); err != nil {
		return nil, err
	}
	if k.module.ctx.state != q.ctx.state {
		return nil, errors.Errorf("EnqueueKernel: kernel %q belongs to a different context than %s", k.name, q)
	}
	if unbound := k.unbound(); len(unbound) > 0 {
		return nil, errors.Wrapf(ErrUnboundArgument, "kernel %q arguments %v not set", k.name, unbound)
	}
	if err := k.checkBuffers(); err != nil {
		return nil, err
	}
	if len(global) == 0 || len(global) > 3 {
		return nil, errors.Errorf("EnqueueKernel: global work size must have 1 to 3 dimensions, got %v", global)
	}
	if local != nil && len(local) != len(global) {
		return nil, errors.Errorf("EnqueueKernel: local work size %v doesn't match the dimensions of global %v", local, global)
	}
	waitList, err := eventIDs(q.ctx, waitFor)
	if err != nil {
		return nil, err
	}
	id, status := q.ctx.state.drv.EnqueueNDRangeKernel(q.h.id, k.h.id, nil, global, local, waitList)
	if err := statusError("EnqueueNDRangeKernel", status); err != nil {
		return nil, errors.WithMessagef(err, "kernel %q, global=%v, local=%v", k.name, global, local)
	}
	klog.V(2).Infof("cl: enqueued kernel %q global=%v local=%v on %s", k.name, global, local, q)
	return newEvent(q, id, driver.CommandNDRangeKernel), nil
}

// EnqueueRead enqueues the copy of the start of the buffer to dst, len(dst) bytes. If blocking, it only returns
// after the copy completed, otherwise dst must not be used until the returned event completes.
func (q *Queue) EnqueueRead(b *Buffer, dst []byte, blocking bool, waitFor ...*Event) (*Event, error) {
	return q.transfer(driver.CommandReadBuffer, b, dst, blocking, waitFor)
}

// EnqueueWrite enqueues the copy of src to the start of the buffer. If not blocking, src must not be modified
// until the returned event completes.
func (q *Queue) EnqueueWrite(b *Buffer, src []byte, blocking bool, waitFor ...*Event) (*Event, error) {
	return q.transfer(driver.CommandWriteBuffer, b, src, blocking, waitFor)
}

// transfer implements EnqueueRead and EnqueueWrite. Failures are in the ErrTransfer category.
func (q *Queue) transfer(cmdType driver.CommandType, b *Buffer, data []byte, blocking bool, waitFor []*Event) (*Event, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, inCategory(ErrTransfer, err)
	}
	if b.ctx.state != q.ctx.state {
		return nil, errors.Wrapf(ErrTransfer, "%s: buffer belongs to a different context than %s", cmdType, q)
	}
	if len(data) == 0 || len(data) > b.size {
		return nil, errors.Wrapf(ErrTransfer, "%s: %d bytes don't fit %s", cmdType, len(data), b)
	}
	waitList, err := eventIDs(q.ctx, waitFor)
	if err != nil {
		return nil, err
	}
	drv := q.ctx.state.drv
	var id driver.EventID
	var status driver.Status
	call := "EnqueueReadBuffer"
	if cmdType == driver.CommandReadBuffer {
		id, status = drv.EnqueueReadBuffer(q.h.id, b.h.id, blocking, 0, data, waitList)
	} else {
		call = "EnqueueWriteBuffer"
		id, status = drv.EnqueueWriteBuffer(q.h.id, b.h.id, blocking, 0, data, waitList)
	}
	if !status.Ok() {
		if id != 0 {
			// The command was enqueued, and failed while blocking.
			drv.ReleaseEvent(id)
		}
		return nil, inCategory(ErrTransfer, statusError(call, status))
	}
	return newEvent(q, id, cmdType), nil
}

// EnqueueBarrier enqueues a command that completes when the events in waitFor complete or, if none is given,
// when every command enqueued before it completes. Commands enqueued after it start only after it completes.
func (q *Queue) EnqueueBarrier(waitFor ...*Event) (*Event, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	waitList, err := eventIDs(q.ctx, waitFor)
	if err != nil {
		return nil, err
	}
	id, status := q.ctx.state.drv.EnqueueBarrier(q.h.id, waitList)
	if err := statusError("EnqueueBarrier", status); err != nil {
		return nil, err
	}
	return newEvent(q, id, driver.CommandBarrier), nil
}

// Flush issues the enqueued commands to the device, without waiting for them.
func (q *Queue) Flush() error {
	if err := q.check(); err != nil {
		return err
	}
	return statusError("Flush", q.ctx.state.drv.Flush(q.h.id))
}

// Finish blocks until every enqueued command completes.
func (q *Queue) Finish() error {
	if err := q.check(); err != nil {
		return err
	}
	return statusError("Finish", q.ctx.state.drv.Finish(q.h.id))
}

// WriteBuffer copies flat to the start of the buffer, blocking until the copy completes.
func WriteBuffer[T dtypes.Supported](q *Queue, b *Buffer, flat []T, waitFor ...*Event) error {
	src, _ := dtypes.FlatToRaw(flat)
	e, err := q.EnqueueWrite(b, src, true, waitFor...)
	if err != nil {
		return err
	}
	return e.Release()
}

// ReadBuffer copies the start of the buffer to dst, blocking until the copy completes.
func ReadBuffer[T dtypes.Supported](q *Queue, b *Buffer, dst []T, waitFor ...*Event) error {
	raw, _ := dtypes.FlatToRaw(dst)
	e, err := q.EnqueueRead(b, raw, true, waitFor...)
	if err != nil {
		return err
	}
	return e.Release()
}

// BufferToArray reads the whole buffer as a slice of T, blocking until the copy completes.
func BufferToArray[T dtypes.Supported](q *Queue, b *Buffer, waitFor ...*Event) ([]T, error) {
	if err := b.check(); err != nil {
		return nil, inCategory(ErrTransfer, err)
	}
	dtype := dtypes.FromGenericsType[T]()
	if b.size%dtype.Size() != 0 {
		return nil, errors.Wrapf(ErrTransfer, "%s size is not a multiple of %s", b, dtype)
	}
	flat := make([]T, b.size/dtype.Size())
	if err := ReadBuffer(q, b, flat, waitFor...); err != nil {
		return nil, err
	}
	return flat, nil
}
