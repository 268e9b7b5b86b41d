package clc

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// NDRange is the index space of a kernel launch. Only the first Dims entries of the arrays are used.
type NDRange struct {
	Dims   int
	Offset [3]int
	Global [3]int

	// Local is the work-group size. If Local[0] is 0, the sizes are chosen with ChooseLocalSize.
	Local [3]int
}

// NumGroups returns the number of work-groups in each dimension.
func (nd *NDRange) NumGroups() [3]int {
	var n [3]int
	for d := range n {
		n[d] = nd.Global[d] / nd.Local[d]
	}
	return n
}

// WorkGroupSize is the number of work-items in one work-group.
func (nd *NDRange) WorkGroupSize() int {
	return nd.Local[0] * nd.Local[1] * nd.Local[2]
}

// Normalize validates the NDRange and fills in the unused dimensions (with 1) and the local sizes, if not
// given.
func (nd *NDRange) Normalize(maxWorkGroupSize int) error {
	if nd.Dims < 1 || nd.Dims > 3 {
		return errors.Errorf("invalid number of work dimensions %d, it must be 1, 2 or 3", nd.Dims)
	}
	chooseLocal := nd.Local[0] == 0
	for d := 0; d < 3; d++ {
		if d >= nd.Dims {
			nd.Offset[d], nd.Global[d], nd.Local[d] = 0, 1, 1
			continue
		}
		if nd.Global[d] <= 0 {
			return errors.Errorf("invalid global size %d for dimension %d", nd.Global[d], d)
		}
		if !chooseLocal && nd.Local[d] <= 0 {
			return errors.Errorf("invalid local size %d for dimension %d", nd.Local[d], d)
		}
	}
	if chooseLocal {
		nd.Local = ChooseLocalSize(nd.Global, nd.Dims, maxWorkGroupSize)
	}
	for d := 0; d < nd.Dims; d++ {
		if nd.Global[d]%nd.Local[d] != 0 {
			return errors.Errorf("global size %d is not a multiple of the local size %d in dimension %d",
				nd.Global[d], nd.Local[d], d)
		}
	}
	if maxWorkGroupSize > 0 && nd.WorkGroupSize() > maxWorkGroupSize {
		return errors.Errorf("work-group size %d exceeds the maximum of %d", nd.WorkGroupSize(), maxWorkGroupSize)
	}
	return nil
}

// defaultLocalSize is the preferred number of work-items per group in the first dimension.
const defaultLocalSize = 64

// ChooseLocalSize picks a work-group size when the user doesn't: the largest divisor of the global size in
// the first dimension not larger than 64 (or maxWorkGroupSize), and 1 in the other dimensions.
func ChooseLocalSize(global [3]int, dims, maxWorkGroupSize int) [3]int {
	local := [3]int{1, 1, 1}
	limit := defaultLocalSize
	if maxWorkGroupSize > 0 && maxWorkGroupSize < limit {
		limit = maxWorkGroupSize
	}
	if dims >= 1 {
		for size := min(limit, global[0]); size >= 1; size-- {
			if global[0]%size == 0 {
				local[0] = size
				break
			}
		}
	}
	return local
}

// Arg is the value of one kernel argument.
type Arg struct {
	// Memory for __global and __constant pointers. nil is a null pointer.
	Memory *Memory

	// LocalSize in bytes of the memory allocated for __local pointers, for each work-group.
	LocalSize int

	// Scalar is the little-endian encoding of arguments passed by value.
	Scalar []byte
}

// RuntimeError is returned by Kernel.Launch when a work-item faults, e.g. on an out of bounds access.
type RuntimeError struct {
	Kernel   string
	Pos      Pos
	GlobalID [3]int
	Msg      string
}

// Error implements error.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("kernel %q, work-item %v: <source>:%s: %s", e.Kernel, e.GlobalID, e.Pos, e.Msg)
}

type (
	// canceled is raised when the launch context is done.
	canceled struct{}

	// brokenBarrier is raised in work-items waiting on a barrier when another work-item of the group failed.
	brokenBarrier struct{}
)

var errBrokenBarrier = errors.New("work-group barrier broken by a failed work-item")

type workGroup struct {
	id      [3]int
	locals  []*Memory
	barrier *groupBarrier
}

type workItem struct {
	ctx           context.Context
	nd            *NDRange
	global, local [3]int
	group         *workGroup
}

func (w *workItem) poll() {
	if w.ctx.Err() != nil {
		panic(canceled{})
	}
}

func (w *workItem) barrier(pos Pos) {
	if w.group.barrier == nil {
		faultf(pos, "barrier called in a kernel not prepared for work-group synchronization")
	}
	w.group.barrier.wait()
}

// groupBarrier synchronizes the work-items of a work-group. Work-items that finish leave the barrier, so the
// remaining ones are not blocked forever.
type groupBarrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	broken     bool
}

func newGroupBarrier(parties int) *groupBarrier {
	b := &groupBarrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *groupBarrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		panic(brokenBarrier{})
	}
	generation := b.generation
	b.waiting++
	if b.waiting >= b.parties {
		b.releaseLocked()
		return
	}
	for generation == b.generation && !b.broken {
		b.cond.Wait()
	}
	if generation == b.generation && b.broken {
		panic(brokenBarrier{})
	}
}

func (b *groupBarrier) releaseLocked() {
	b.waiting = 0
	b.generation++
	b.cond.Broadcast()
}

func (b *groupBarrier) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties--
	if b.waiting > 0 && b.waiting >= b.parties {
		b.releaseLocked()
	}
}

func (b *groupBarrier) abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = true
	b.cond.Broadcast()
}

// localArg is a __local pointer argument, allocated for each work-group.
type localArg struct {
	index, size int
	name        string
}

// Launch executes the kernel over the NDRange. Work-groups run concurrently, at most parallelism at a
// time (1 if parallelism <= 0), and the work-items of a group run sequentially, or each in its own goroutine
// if the kernel synchronizes them with barriers.
//
// nd is normalized with no limit on the work-group size. It returns a *RuntimeError if a work-item faults, or
// the context error if ctx is done before the launch completes.
func (k *Kernel) Launch(ctx context.Context, nd NDRange, args []Arg, parallelism int) error {
	if err := nd.Normalize(0); err != nil {
		return err
	}
	values, localArgs, err := k.argValues(args)
	if err != nil {
		return err
	}
	numGroups := nd.NumGroups()
	totalGroups := numGroups[0] * numGroups[1] * numGroups[2]

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for gi := 0; gi < totalGroups; gi++ {
		if gctx.Err() != nil {
			break
		}
		id := [3]int{gi % numGroups[0], (gi / numGroups[0]) % numGroups[1], gi / (numGroups[0] * numGroups[1])}
		g.Go(func() error {
			return k.runGroup(gctx, &nd, id, values, localArgs)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// argValues converts the arguments to the values of the parameters.
func (k *Kernel) argValues(args []Arg) ([]value, []localArg, error) {
	if len(args) != len(k.Params) {
		return nil, nil, errors.Errorf("kernel %q takes %d arguments, %d given", k.Name, len(k.Params), len(args))
	}
	values := make([]value, len(args))
	var localArgs []localArg
	for i, param := range k.Params {
		arg := args[i]
		switch {
		case param.Type.isPointer() && param.Space == Local:
			if arg.LocalSize <= 0 {
				return nil, nil, errors.Errorf("kernel %q argument %d (%s): __local pointers need a local memory size",
					k.Name, i, param.Name)
			}
			localArgs = append(localArgs, localArg{index: i, size: arg.LocalSize, name: param.Name})
		case param.Type.isPointer():
			values[i] = value{p: ptr{mem: arg.Memory}}
		default:
			if len(arg.Scalar) != param.Type.Size() {
				return nil, nil, errors.Errorf("kernel %q argument %d (%s): value of %d bytes given for type %s",
					k.Name, i, param.Name, len(arg.Scalar), param.Type)
			}
			values[i] = decodeValue(arg.Scalar, param.Type)
		}
	}
	return values, localArgs, nil
}

func (k *Kernel) runGroup(ctx context.Context, nd *NDRange, id [3]int, args []value, localArgs []localArg) error {
	group := &workGroup{id: id, locals: make([]*Memory, len(k.fn.localSizes))}
	for i, size := range k.fn.localSizes {
		group.locals[i] = &Memory{name: fmt.Sprintf("%s local #%d", k.Name, i), space: Local, data: make([]byte, size)}
	}
	if len(localArgs) > 0 {
		args = append([]value(nil), args...)
		for _, la := range localArgs {
			args[la.index] = value{p: ptr{mem: &Memory{name: la.name, space: Local, data: make([]byte, la.size)}}}
		}
	}

	n := nd.WorkGroupSize()
	newItem := func(li int) *workItem {
		item := &workItem{ctx: ctx, nd: nd, group: group}
		item.local = [3]int{li % nd.Local[0], (li / nd.Local[0]) % nd.Local[1], li / (nd.Local[0] * nd.Local[1])}
		for d := range item.global {
			item.global[d] = nd.Offset[d] + id[d]*nd.Local[d] + item.local[d]
		}
		return item
	}

	if !k.fn.callsBarrier {
		for li := 0; li < n; li++ {
			if err := k.runItem(newItem(li), args); err != nil {
				return err
			}
		}
		return nil
	}

	group.barrier = newGroupBarrier(n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for li := 0; li < n; li++ {
		wg.Add(1)
		go func(li int) {
			defer wg.Done()
			err := k.runItem(newItem(li), args)
			if err != nil {
				errs[li] = err
				group.barrier.abort()
			}
			group.barrier.leave()
		}(li)
	}
	wg.Wait()
	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if err != errBrokenBarrier {
			return err
		}
		firstErr = err
	}
	return firstErr
}

// runItem runs the kernel for one work-item, converting faults to errors.
func (k *Kernel) runItem(item *workItem, args []value) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r := r.(type) {
		case *fault:
			err = &RuntimeError{Kernel: k.Name, Pos: r.pos, GlobalID: item.global, Msg: r.msg}
		case canceled:
			err = item.ctx.Err()
		case brokenBarrier:
			err = errBrokenBarrier
		case runtime.Error:
			err = &RuntimeError{Kernel: k.Name, GlobalID: item.global, Msg: fmt.Sprintf("internal error: %v", r)}
		default:
			panic(r)
		}
	}()
	k.fn.call(item, args)
	return nil
}
