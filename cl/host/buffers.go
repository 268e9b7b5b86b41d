package host

import (
	"fmt"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/clc"
	"k8s.io/klog/v2"
)

// poisonByte fills write-only buffers created without host data, so kernels reading them see garbage
// consistently.
const poisonByte = 0xA5

type memObject struct {
	id    driver.MemID
	ctx   *computeContext
	flags driver.MemFlags
	mem   *clc.Memory
}

func (d *Driver) mem(id driver.MemID) *memObject {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.mems[id]
	if m == nil || m.ctx.released.Load() {
		return nil
	}
	return m
}

const validMemFlags = driver.MemReadWrite | driver.MemWriteOnly | driver.MemReadOnly |
	driver.MemUseHostPtr | driver.MemAllocHostPtr | driver.MemCopyHostPtr

// CreateBuffer implements driver.Driver.
//
// With MemUseHostPtr the buffer is backed by host itself, so kernels and transfers read and write it directly.
func (d *Driver) CreateBuffer(ctxID driver.ContextID, flags driver.MemFlags, size int, host []byte) (driver.MemID, driver.Status) {
	ctx := d.context(ctxID)
	if ctx == nil {
		return 0, driver.InvalidContext
	}
	if flags&^validMemFlags != 0 {
		return 0, driver.InvalidValue
	}
	access := flags & (driver.MemReadWrite | driver.MemWriteOnly | driver.MemReadOnly)
	if access&(access-1) != 0 {
		return 0, driver.InvalidValue
	}
	if flags&driver.MemUseHostPtr != 0 && flags&(driver.MemCopyHostPtr|driver.MemAllocHostPtr) != 0 {
		return 0, driver.InvalidValue
	}
	if access == 0 {
		flags |= driver.MemReadWrite
	}

	maxSize := ctx.devices[0].config.MaxMemAllocSize
	for _, dev := range ctx.devices[1:] {
		maxSize = min(maxSize, dev.config.MaxMemAllocSize)
	}
	if size <= 0 || int64(size) > maxSize {
		return 0, driver.InvalidBufferSize
	}

	usesHost := flags&(driver.MemUseHostPtr|driver.MemCopyHostPtr) != 0
	if usesHost != (host != nil) || (usesHost && len(host) < size) {
		return 0, driver.InvalidHostPtr
	}

	m := &memObject{id: driver.MemID(d.newHandle()), ctx: ctx, flags: flags}
	name := fmt.Sprintf("buffer #%d", m.id)
	var data []byte
	switch {
	case flags&driver.MemUseHostPtr != 0:
		data = host[:size:size]
	case flags&driver.MemCopyHostPtr != 0:
		data = make([]byte, size)
		copy(data, host)
	default:
		data = make([]byte, size)
		if flags&driver.MemWriteOnly != 0 {
			for i := range data {
				data[i] = poisonByte
			}
		}
	}
	m.mem = clc.NewMemory(name, data)

	d.mu.Lock()
	d.mems[m.id] = m
	d.mu.Unlock()
	klog.V(3).Infof("host driver: created %s with %d bytes, flags 0x%x", name, size, uint64(flags))
	return m.id, driver.Success
}

// GetMemObjectInfo implements driver.Driver.
func (d *Driver) GetMemObjectInfo(id driver.MemID, param driver.MemInfo, dst []byte) (int, driver.Status) {
	m := d.mem(id)
	if m == nil {
		return 0, driver.InvalidMemObject
	}
	var value []byte
	switch param {
	case driver.MemFlagsInfo:
		value = driver.InfoUint64(uint64(m.flags))
	case driver.MemSize:
		value = driver.InfoUint64(uint64(len(m.mem.Bytes())))
	case driver.MemReferenceCount:
		value = driver.InfoUint32(1)
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}

// ReleaseMemObject implements driver.Driver. Commands already enqueued that use the buffer still complete.
func (d *Driver) ReleaseMemObject(id driver.MemID) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.mems[id]; !found {
		return driver.InvalidMemObject
	}
	delete(d.mems, id)
	return driver.Success
}
