package host

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/clc"
	"k8s.io/klog/v2"
)

type program struct {
	id  driver.ProgramID
	ctx *computeContext

	// sources of programs created from source, or binaries of the devices of programs created from binaries.
	sources  []string
	binaries map[*device]*programBinary

	mu     sync.Mutex
	builds map[*device]*buildResult

	// numKernels created from the program, protected by Driver.mu. A program can't be rebuilt while it has
	// kernels.
	numKernels int
}

// buildResult of a program for one device. They are shared through the program cache, and never modified.
type buildResult struct {
	status   driver.BuildStatus
	options  string
	log      string
	compiled *clc.Program
}

// devices the program can be built for.
func (p *program) devices() []*device {
	if p.binaries == nil {
		return p.ctx.devices
	}
	var devices []*device
	for _, dev := range p.ctx.devices {
		if _, found := p.binaries[dev]; found {
			devices = append(devices, dev)
		}
	}
	return devices
}

func (p *program) sourcesFor(dev *device) []string {
	if p.binaries == nil {
		return p.sources
	}
	return p.binaries[dev].sources
}

func (p *program) build(dev *device) *buildResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds[dev]
}

// executable returns the first successful build, or nil if there is none.
func (p *program) executable() *buildResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dev := range p.devices() {
		if b := p.builds[dev]; b != nil && b.status == driver.BuildSuccess {
			return b
		}
	}
	return nil
}

func (d *Driver) program(id driver.ProgramID) *program {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.programs[id]
	if p == nil || p.ctx.released.Load() {
		return nil
	}
	return p
}

// CreateProgramWithSource implements driver.Driver. Sources that are empty or not well-formed at the lexical level
// are rejected with InvalidValue.
func (d *Driver) CreateProgramWithSource(ctxID driver.ContextID, sources []string) (driver.ProgramID, driver.Status) {
	ctx := d.context(ctxID)
	if ctx == nil {
		return 0, driver.InvalidContext
	}
	if len(sources) == 0 || strings.TrimSpace(strings.Join(sources, "")) == "" {
		return 0, driver.InvalidValue
	}
	if diags := clc.CheckLexical(sources); diags != nil {
		klog.V(1).Infof("host driver: program rejected:\n%s", diags.Log())
		return 0, driver.InvalidValue
	}
	p := &program{
		id:      driver.ProgramID(d.newHandle()),
		ctx:     ctx,
		sources: append([]string(nil), sources...),
		builds:  make(map[*device]*buildResult),
	}
	d.mu.Lock()
	d.programs[p.id] = p
	d.mu.Unlock()
	return p.id, driver.Success
}

// CreateProgramWithBinary implements driver.Driver. The binaries must have been returned by GetProgramBinary for
// devices with the same name.
func (d *Driver) CreateProgramWithBinary(ctxID driver.ContextID, devices []driver.DeviceID, binaries [][]byte) (driver.ProgramID, driver.Status) {
	ctx := d.context(ctxID)
	if ctx == nil {
		return 0, driver.InvalidContext
	}
	if len(devices) == 0 || len(devices) != len(binaries) {
		return 0, driver.InvalidValue
	}
	p := &program{
		ctx:      ctx,
		binaries: make(map[*device]*programBinary),
		builds:   make(map[*device]*buildResult),
	}
	for i, id := range devices {
		dev := d.devices[id]
		if dev == nil || !ctx.hasDevice(dev) {
			return 0, driver.InvalidDevice
		}
		pb, err := decodeProgramBinary(binaries[i])
		if err != nil {
			klog.V(1).Infof("host driver: %v", err)
			return 0, driver.InvalidBinary
		}
		if pb.device != dev.config.Name {
			klog.V(1).Infof("host driver: binary built for device %q given for device %q", pb.device, dev.config.Name)
			return 0, driver.InvalidBinary
		}
		p.binaries[dev] = pb
	}
	p.id = driver.ProgramID(d.newHandle())
	d.mu.Lock()
	d.programs[p.id] = p
	d.mu.Unlock()
	return p.id, driver.Success
}

// BuildProgram implements driver.Driver. It builds synchronously, for every given device (or all the devices of
// the program if none are given), and returns BuildProgramFailure if any of the builds fails.
func (d *Driver) BuildProgram(id driver.ProgramID, deviceIDs []driver.DeviceID, options string) driver.Status {
	p := d.program(id)
	if p == nil {
		return driver.InvalidProgram
	}
	targets := p.devices()
	if len(deviceIDs) > 0 {
		targets = nil
		for _, devID := range deviceIDs {
			dev := d.devices[devID]
			if dev == nil || !containsDevice(p.devices(), dev) {
				return driver.InvalidDevice
			}
			targets = append(targets, dev)
		}
	}
	d.mu.Lock()
	hasKernels := p.numKernels > 0
	d.mu.Unlock()
	if hasKernels {
		return driver.InvalidOperation
	}

	opts, err := clc.ParseOptions(options)
	if err != nil {
		p.mu.Lock()
		for _, dev := range targets {
			p.builds[dev] = &buildResult{status: driver.BuildError, options: options, log: err.Error() + "\n"}
		}
		p.mu.Unlock()
		return driver.InvalidBuildOptions
	}

	status := driver.Success
	for _, dev := range targets {
		p.mu.Lock()
		p.builds[dev] = &buildResult{status: driver.BuildInProgress, options: options}
		p.mu.Unlock()
		result := d.compile(dev, p.sourcesFor(dev), options, opts)
		p.mu.Lock()
		p.builds[dev] = result
		p.mu.Unlock()
		if result.status != driver.BuildSuccess {
			status = driver.BuildProgramFailure
		}
	}
	return status
}

func containsDevice(devices []*device, dev *device) bool {
	for _, d := range devices {
		if d == dev {
			return true
		}
	}
	return false
}

// compile the sources for the device, or return the result cached from an equal compilation.
func (d *Driver) compile(dev *device, sources []string, options string, opts clc.Options) *buildResult {
	opts.Extensions = dev.config.Extensions
	opts.DeviceVersion = languageVersion(dev.config.Version)
	key := cacheKey(sources, options, opts)
	if cached, found := d.programCache.Get(key); found {
		klog.V(2).Infof("host driver: program cache hit for device %q", dev.config.Name)
		return cached.(*buildResult)
	}
	compiled, diags := clc.Compile(sources, opts)
	result := &buildResult{status: driver.BuildSuccess, options: options, log: diags.Log(), compiled: compiled}
	if compiled == nil {
		result.status = driver.BuildError
		klog.V(1).Infof("host driver: build failed for device %q:\n%s", dev.config.Name, result.log)
	}
	d.programCache.Add(key, result)
	return result
}

// cacheKey is a hash of everything that affects the compilation.
func cacheKey(sources []string, options string, opts clc.Options) [sha256.Size]byte {
	h := sha256.New()
	write := func(s string) {
		var size [8]byte
		binary.LittleEndian.PutUint64(size[:], uint64(len(s)))
		h.Write(size[:])
		h.Write([]byte(s))
	}
	write(options)
	write(strings.Join(opts.Extensions, " "))
	write(string(rune(opts.DeviceVersion)))
	for _, src := range sources {
		write(src)
	}
	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

// GetProgramInfo implements driver.Driver.
func (d *Driver) GetProgramInfo(id driver.ProgramID, param driver.ProgramInfo, dst []byte) (int, driver.Status) {
	p := d.program(id)
	if p == nil {
		return 0, driver.InvalidProgram
	}
	var value []byte
	switch param {
	case driver.ProgramReferenceCount:
		value = driver.InfoUint32(1)
	case driver.ProgramNumDevices:
		value = driver.InfoUint32(uint32(len(p.devices())))
	case driver.ProgramDevices:
		var ids []driver.DeviceID
		for _, dev := range p.devices() {
			ids = append(ids, dev.id)
		}
		value = driver.InfoHandles(ids)
	case driver.ProgramSource:
		value = driver.InfoString(strings.Join(p.sources, "\n"))
	case driver.ProgramNumKernels, driver.ProgramKernelNames:
		exe := p.executable()
		if exe == nil {
			return 0, driver.InvalidProgramExecutable
		}
		names := exe.compiled.KernelNames()
		if param == driver.ProgramNumKernels {
			value = driver.InfoUint64(uint64(len(names)))
		} else {
			value = driver.InfoString(strings.Join(names, ";"))
		}
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}

// GetProgramBuildInfo implements driver.Driver.
func (d *Driver) GetProgramBuildInfo(id driver.ProgramID, devID driver.DeviceID, param driver.ProgramBuildInfo, dst []byte) (int, driver.Status) {
	p := d.program(id)
	if p == nil {
		return 0, driver.InvalidProgram
	}
	dev := d.devices[devID]
	if dev == nil || !containsDevice(p.devices(), dev) {
		return 0, driver.InvalidDevice
	}
	result := p.build(dev)
	if result == nil {
		result = &buildResult{status: driver.BuildNone}
	}
	var value []byte
	switch param {
	case driver.ProgramBuildStatus:
		value = driver.InfoUint32(uint32(result.status))
	case driver.ProgramBuildOptions:
		value = driver.InfoString(result.options)
	case driver.ProgramBuildLog:
		value = driver.InfoString(result.log)
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}

// GetProgramBinary implements driver.Driver.
func (d *Driver) GetProgramBinary(id driver.ProgramID, devID driver.DeviceID, dst []byte) (int, driver.Status) {
	p := d.program(id)
	if p == nil {
		return 0, driver.InvalidProgram
	}
	dev := d.devices[devID]
	if dev == nil || !containsDevice(p.devices(), dev) {
		return 0, driver.InvalidDevice
	}
	result := p.build(dev)
	if result == nil || result.status != driver.BuildSuccess {
		return 0, driver.InvalidProgramExecutable
	}
	pb := &programBinary{device: dev.config.Name, options: result.options, sources: p.sourcesFor(dev)}
	return driver.FillInfo(pb.encode(), dst)
}

// ReleaseProgram implements driver.Driver. Kernels created from the program remain valid.
func (d *Driver) ReleaseProgram(id driver.ProgramID) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.programs[id]; !found {
		return driver.InvalidProgram
	}
	delete(d.programs, id)
	return driver.Success
}
