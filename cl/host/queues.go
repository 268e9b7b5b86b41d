package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/clc"
	"k8s.io/klog/v2"
)

// event tracks one enqueued command.
type event struct {
	id      driver.EventID
	ctx     *computeContext
	cmdType driver.CommandType
	status  atomic.Int32
	done    chan struct{}
}

func newEvent(d *Driver, ctx *computeContext, cmdType driver.CommandType) *event {
	e := &event{id: driver.EventID(d.newHandle()), ctx: ctx, cmdType: cmdType, done: make(chan struct{})}
	e.status.Store(int32(driver.ExecQueued))
	return e
}

// wait blocks until the command completes and returns its final status: ExecComplete or an error.
func (e *event) wait() driver.ExecutionStatus {
	<-e.done
	return driver.ExecutionStatus(e.status.Load())
}

func (e *event) setStatus(status driver.ExecutionStatus) {
	e.status.Store(int32(status))
}

func (e *event) finish(status driver.ExecutionStatus) {
	e.status.Store(int32(status))
	close(e.done)
}

// command is an enqueued operation: run is called once all deps completed successfully.
type command struct {
	ev   *event
	deps []*event
	run  func() driver.Status
}

// queue executes its commands on a worker goroutine: one at a time and in order, or, for out-of-order queues,
// each on its own goroutine as soon as its dependencies complete.
type queue struct {
	id         driver.QueueID
	ctx        *computeContext
	device     *device
	outOfOrder bool

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []*command
	closed  bool

	// pending are the commands not yet completed.
	pending map[*event]struct{}

	// lastBarrier of an out-of-order queue: every later command depends on it.
	lastBarrier *event

	running    sync.WaitGroup
	workerDone chan struct{}
}

func newQueue(d *Driver, ctx *computeContext, dev *device, outOfOrder bool) *queue {
	q := &queue{
		id:         driver.QueueID(d.newHandle()),
		ctx:        ctx,
		device:     dev,
		outOfOrder: outOfOrder,
		pending:    make(map[*event]struct{}),
		workerDone: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

func (q *queue) worker() {
	defer close(q.workerDone)
	for {
		q.mu.Lock()
		for len(q.backlog) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.backlog) == 0 {
			q.mu.Unlock()
			return
		}
		cmd := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		cmd.ev.setStatus(driver.ExecSubmitted)
		if q.outOfOrder {
			q.running.Add(1)
			go func() {
				defer q.running.Done()
				q.execute(cmd)
			}()
		} else {
			q.execute(cmd)
		}
	}
}

func (q *queue) execute(cmd *command) {
	status := driver.ExecComplete
	for _, dep := range cmd.deps {
		if dep.wait() < 0 {
			status = driver.ExecutionStatus(driver.ExecStatusErrorForEventsInWaitList)
		}
	}
	if status == driver.ExecComplete {
		cmd.ev.setStatus(driver.ExecRunning)
		if s := cmd.run(); !s.Ok() {
			status = driver.ExecutionStatus(s)
		}
	}
	q.mu.Lock()
	delete(q.pending, cmd.ev)
	q.mu.Unlock()
	cmd.ev.finish(status)
}

// enqueue schedules the command. If barrier is set, the command waits for every pending command when it has no
// explicit dependencies, and later commands wait for it.
func (q *queue) enqueue(cmd *command, barrier bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.outOfOrder {
		if barrier && len(cmd.deps) == 0 {
			for ev := range q.pending {
				cmd.deps = append(cmd.deps, ev)
			}
		} else if q.lastBarrier != nil {
			cmd.deps = append(cmd.deps, q.lastBarrier)
		}
		if barrier {
			q.lastBarrier = cmd.ev
		}
	}
	q.pending[cmd.ev] = struct{}{}
	q.backlog = append(q.backlog, cmd)
	q.cond.Signal()
	return true
}

// finish waits for every command enqueued so far.
func (q *queue) finish() {
	q.mu.Lock()
	events := make([]*event, 0, len(q.pending))
	for ev := range q.pending {
		events = append(events, ev)
	}
	q.mu.Unlock()
	for _, ev := range events {
		ev.wait()
	}
}

// close stops accepting commands and waits for the pending ones to complete.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.workerDone
	q.running.Wait()
}

func (d *Driver) queue(id driver.QueueID) *queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[id]
}

// CreateCommandQueue implements driver.Driver. Profiling is accepted but not implemented.
func (d *Driver) CreateCommandQueue(ctxID driver.ContextID, devID driver.DeviceID, properties driver.QueueProperties) (driver.QueueID, driver.Status) {
	ctx := d.context(ctxID)
	if ctx == nil {
		return 0, driver.InvalidContext
	}
	dev := d.devices[devID]
	if dev == nil || !ctx.hasDevice(dev) {
		return 0, driver.InvalidDevice
	}
	if properties&^(driver.QueueOutOfOrderExecModeEnable|driver.QueueProfilingEnable) != 0 {
		return 0, driver.InvalidValue
	}
	q := newQueue(d, ctx, dev, properties&driver.QueueOutOfOrderExecModeEnable != 0)
	d.mu.Lock()
	d.queues[q.id] = q
	d.mu.Unlock()
	klog.V(2).Infof("host driver: created queue %d on device %q (out-of-order=%v)", q.id, dev.config.Name, q.outOfOrder)
	return q.id, driver.Success
}

// ReleaseCommandQueue implements driver.Driver. It blocks until the commands already enqueued complete.
func (d *Driver) ReleaseCommandQueue(id driver.QueueID) driver.Status {
	d.mu.Lock()
	q, found := d.queues[id]
	delete(d.queues, id)
	d.mu.Unlock()
	if !found {
		return driver.InvalidCommandQueue
	}
	q.close()
	return driver.Success
}

// waitList resolves the events of a wait list, which must belong to the same context.
func (d *Driver) waitList(ctx *computeContext, ids []driver.EventID) ([]*event, driver.Status) {
	if len(ids) == 0 {
		return nil, driver.Success
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	events := make([]*event, len(ids))
	for i, id := range ids {
		ev := d.events[id]
		if ev == nil {
			return nil, driver.InvalidEventWaitList
		}
		if ev.ctx != ctx {
			return nil, driver.InvalidContext
		}
		events[i] = ev
	}
	return events, driver.Success
}

// submit creates the event of the command, and enqueues it.
func (d *Driver) submit(q *queue, cmdType driver.CommandType, waitList []driver.EventID, barrier bool, run func() driver.Status) (*event, driver.Status) {
	deps, status := d.waitList(q.ctx, waitList)
	if !status.Ok() {
		return nil, status
	}
	ev := newEvent(d, q.ctx, cmdType)
	if !q.enqueue(&command{ev: ev, deps: deps, run: run}, barrier) {
		return nil, driver.InvalidCommandQueue
	}
	d.mu.Lock()
	d.events[ev.id] = ev
	d.mu.Unlock()
	return ev, driver.Success
}

// EnqueueNDRangeKernel implements driver.Driver. The kernel arguments are captured when the command is
// enqueued. A work-item fault completes the event with OutOfResources, and is reported to the context's
// notification function.
func (d *Driver) EnqueueNDRangeKernel(qID driver.QueueID, kID driver.KernelID, globalOffset, globalSize, localSize []int,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	q := d.queue(qID)
	if q == nil {
		return 0, driver.InvalidCommandQueue
	}
	k := d.kernel(kID)
	if k == nil {
		return 0, driver.InvalidKernel
	}
	if k.program.ctx != q.ctx {
		return 0, driver.InvalidContext
	}
	build := k.program.build(q.device)
	if build == nil || build.status != driver.BuildSuccess {
		return 0, driver.InvalidProgramExecutable
	}
	ck := build.compiled.Kernel(k.ck.Name)

	nd, status := d.ndRange(q.device, globalOffset, globalSize, localSize)
	if !status.Ok() {
		return 0, status
	}
	args, status := d.launchArgs(q, k)
	if !status.Ok() {
		return 0, status
	}

	dev := q.device
	ev, status := d.submit(q, driver.CommandNDRangeKernel, waitList, false, func() driver.Status {
		klog.V(3).Infof("host driver: launching kernel %q on %q with %+v", ck.Name, dev.config.Name, nd)
		err := ck.Launch(context.Background(), nd, args, dev.config.ComputeUnits)
		if err != nil {
			q.ctx.reportError(fmt.Sprintf("%s: %v", dev.config.Name, err))
			return driver.OutOfResources
		}
		return driver.Success
	})
	if !status.Ok() {
		return 0, status
	}
	return ev.id, driver.Success
}

// ndRange validates the launch geometry against the device limits.
func (d *Driver) ndRange(dev *device, globalOffset, globalSize, localSize []int) (clc.NDRange, driver.Status) {
	var nd clc.NDRange
	dims := len(globalSize)
	if dims < 1 || dims > 3 {
		return nd, driver.InvalidWorkDimension
	}
	if len(globalOffset) != 0 && len(globalOffset) != dims {
		return nd, driver.InvalidGlobalOffset
	}
	if len(localSize) != 0 && len(localSize) != dims {
		return nd, driver.InvalidWorkGroupSize
	}
	nd.Dims = dims
	for i := 0; i < dims; i++ {
		if globalSize[i] <= 0 {
			return nd, driver.InvalidGlobalWorkSize
		}
		nd.Global[i] = globalSize[i]
		if len(globalOffset) > 0 {
			if globalOffset[i] < 0 {
				return nd, driver.InvalidGlobalOffset
			}
			nd.Offset[i] = globalOffset[i]
		}
		if len(localSize) > 0 {
			if localSize[i] <= 0 || globalSize[i]%localSize[i] != 0 {
				return nd, driver.InvalidWorkGroupSize
			}
			nd.Local[i] = localSize[i]
		}
	}
	if err := nd.Normalize(dev.config.MaxWorkGroupSize); err != nil {
		klog.V(1).Infof("host driver: invalid work-group size: %v", err)
		return nd, driver.InvalidWorkGroupSize
	}
	return nd, driver.Success
}

// launchArgs resolves the current arguments of the kernel.
func (d *Driver) launchArgs(q *queue, k *kernel) ([]clc.Arg, driver.Status) {
	kargs, ok := k.snapshotArgs()
	if !ok {
		return nil, driver.InvalidKernelArgs
	}
	args := make([]clc.Arg, len(kargs))
	var localMem int64
	for i, karg := range kargs {
		switch {
		case karg.Mem != 0:
			m := d.mem(karg.Mem)
			if m == nil {
				return nil, driver.InvalidMemObject
			}
			args[i].Memory = m.mem
		case karg.LocalSize > 0:
			args[i].LocalSize = karg.LocalSize
			localMem += int64(karg.LocalSize)
		default:
			args[i].Scalar = karg.Value
		}
	}
	if localMem > q.device.config.LocalMemSize {
		return nil, driver.OutOfResources
	}
	return args, driver.Success
}

// transfer validates a buffer transfer and returns the buffer's memory.
func (d *Driver) transfer(q *queue, memID driver.MemID, offset, size int) (*clc.Memory, driver.Status) {
	m := d.mem(memID)
	if m == nil {
		return nil, driver.InvalidMemObject
	}
	if m.ctx != q.ctx {
		return nil, driver.InvalidContext
	}
	if size == 0 || offset < 0 || offset+size > len(m.mem.Bytes()) {
		return nil, driver.InvalidValue
	}
	return m.mem, driver.Success
}

// completion returns the status of a blocking call.
func completion(ev *event, blocking bool) (driver.EventID, driver.Status) {
	if blocking {
		if status := ev.wait(); status < 0 {
			return ev.id, driver.Status(status)
		}
	}
	return ev.id, driver.Success
}

// EnqueueReadBuffer implements driver.Driver.
func (d *Driver) EnqueueReadBuffer(qID driver.QueueID, memID driver.MemID, blocking bool, offset int, dst []byte,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	q := d.queue(qID)
	if q == nil {
		return 0, driver.InvalidCommandQueue
	}
	mem, status := d.transfer(q, memID, offset, len(dst))
	if !status.Ok() {
		return 0, status
	}
	ev, status := d.submit(q, driver.CommandReadBuffer, waitList, false, func() driver.Status {
		copy(dst, mem.Bytes()[offset:])
		return driver.Success
	})
	if !status.Ok() {
		return 0, status
	}
	return completion(ev, blocking)
}

// EnqueueWriteBuffer implements driver.Driver.
func (d *Driver) EnqueueWriteBuffer(qID driver.QueueID, memID driver.MemID, blocking bool, offset int, src []byte,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	q := d.queue(qID)
	if q == nil {
		return 0, driver.InvalidCommandQueue
	}
	mem, status := d.transfer(q, memID, offset, len(src))
	if !status.Ok() {
		return 0, status
	}
	ev, status := d.submit(q, driver.CommandWriteBuffer, waitList, false, func() driver.Status {
		copy(mem.Bytes()[offset:], src)
		return driver.Success
	})
	if !status.Ok() {
		return 0, status
	}
	return completion(ev, blocking)
}

// EnqueueBarrier implements driver.Driver.
func (d *Driver) EnqueueBarrier(qID driver.QueueID, waitList []driver.EventID) (driver.EventID, driver.Status) {
	q := d.queue(qID)
	if q == nil {
		return 0, driver.InvalidCommandQueue
	}
	ev, status := d.submit(q, driver.CommandBarrier, waitList, true, func() driver.Status { return driver.Success })
	if !status.Ok() {
		return 0, status
	}
	return ev.id, driver.Success
}

// Flush implements driver.Driver. Commands are submitted as soon as they are enqueued, so there is nothing to do.
func (d *Driver) Flush(qID driver.QueueID) driver.Status {
	if d.queue(qID) == nil {
		return driver.InvalidCommandQueue
	}
	return driver.Success
}

// Finish implements driver.Driver.
func (d *Driver) Finish(qID driver.QueueID) driver.Status {
	q := d.queue(qID)
	if q == nil {
		return driver.InvalidCommandQueue
	}
	q.finish()
	return driver.Success
}

// WaitForEvents implements driver.Driver. It returns ExecStatusErrorForEventsInWaitList if any of the commands
// failed.
func (d *Driver) WaitForEvents(ids []driver.EventID) driver.Status {
	if len(ids) == 0 {
		return driver.InvalidValue
	}
	events := make([]*event, len(ids))
	d.mu.Lock()
	for i, id := range ids {
		events[i] = d.events[id]
		if events[i] == nil {
			d.mu.Unlock()
			return driver.InvalidEvent
		}
	}
	d.mu.Unlock()
	status := driver.Success
	for _, ev := range events {
		if ev.wait() < 0 {
			status = driver.ExecStatusErrorForEventsInWaitList
		}
	}
	return status
}

// GetEventInfo implements driver.Driver.
func (d *Driver) GetEventInfo(id driver.EventID, param driver.EventInfo, dst []byte) (int, driver.Status) {
	d.mu.Lock()
	ev := d.events[id]
	d.mu.Unlock()
	if ev == nil {
		return 0, driver.InvalidEvent
	}
	var value []byte
	switch param {
	case driver.EventCommandType:
		value = driver.InfoUint32(uint32(ev.cmdType))
	case driver.EventReferenceCount:
		value = driver.InfoUint32(1)
	case driver.EventCommandExecutionStatus:
		value = driver.InfoUint32(uint32(ev.status.Load()))
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}

// ReleaseEvent implements driver.Driver. The command itself is not affected.
func (d *Driver) ReleaseEvent(id driver.EventID) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.events[id]; !found {
		return driver.InvalidEvent
	}
	delete(d.events, id)
	return driver.Success
}
