package cl

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Platform is an implementation of the compute runtime, grouping devices. Its attributes are read once, when
// it is discovered.
type Platform struct {
	rt *Runtime
	id driver.PlatformID

	name, vendor, version, profile string
	extensions                     string
}

// Platforms returns the available platforms, at most maxEntries of them. If maxEntries <= 0, all platforms are
// returned.
//
// It fails with ErrDiscovery if there are no platforms or the driver fails to list them.
func (rt *Runtime) Platforms(maxEntries int) ([]*Platform, error) {
	count, status := rt.drv.GetPlatformIDs(nil)
	if err := statusError("GetPlatformIDs", status); err != nil {
		return nil, inCategory(ErrDiscovery, err)
	}
	if count == 0 {
		return nil, errors.Wrapf(ErrDiscovery, "driver %q has no platforms", rt.drv.Name())
	}
	capacity := count
	if maxEntries > 0 && maxEntries < count {
		capacity = maxEntries
	}
	ids := make([]driver.PlatformID, capacity)
	count, status = rt.drv.GetPlatformIDs(ids)
	if err := statusError("GetPlatformIDs", status); err != nil {
		return nil, inCategory(ErrDiscovery, err)
	}
	ids = ids[:min(count, capacity)]

	platforms := make([]*Platform, 0, len(ids))
	for _, id := range ids {
		p, err := rt.platform(id)
		if err != nil {
			return nil, inCategory(ErrDiscovery, err)
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// platform returns the cached Platform for the handle, querying its attributes the first time.
func (rt *Runtime) platform(id driver.PlatformID) (*Platform, error) {
	rt.mu.Lock()
	p, found := rt.platforms[id]
	rt.mu.Unlock()
	if found {
		return p, nil
	}

	p = &Platform{rt: rt, id: id}
	for _, attr := range []struct {
		param driver.PlatformInfo
		dst   *string
	}{
		{driver.PlatformName, &p.name},
		{driver.PlatformVendor, &p.vendor},
		{driver.PlatformVersion, &p.version},
		{driver.PlatformProfile, &p.profile},
		{driver.PlatformExtensions, &p.extensions},
	} {
		value, err := queryString("GetPlatformInfo", func(dst []byte) (int, driver.Status) {
			return rt.drv.GetPlatformInfo(id, attr.param, dst)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to query attribute 0x%X of platform %d", uint32(attr.param), id)
		}
		*attr.dst = value
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cached, found := rt.platforms[id]; found {
		return cached, nil
	}
	rt.platforms[id] = p
	klog.V(2).Infof("cl: discovered %s", p)
	return p, nil
}

// FindPlatformWithExtension returns the first platform whose extension list contains name, or nil if none does.
//
// Platforms whose attributes can't be queried are logged and skipped.
func (rt *Runtime) FindPlatformWithExtension(name string) (*Platform, error) {
	count, status := rt.drv.GetPlatformIDs(nil)
	if err := statusError("GetPlatformIDs", status); err != nil {
		return nil, inCategory(ErrDiscovery, err)
	}
	ids := make([]driver.PlatformID, count)
	count, status = rt.drv.GetPlatformIDs(ids)
	if err := statusError("GetPlatformIDs", status); err != nil {
		return nil, inCategory(ErrDiscovery, err)
	}
	for _, id := range ids[:min(count, len(ids))] {
		p, err := rt.platform(id)
		if err != nil {
			klog.Errorf("cl: skipping platform %d while looking for extension %q: %v", id, name, err)
			continue
		}
		if strings.Contains(p.extensions, name) {
			return p, nil
		}
	}
	return nil, nil
}

// ID returns the driver handle of the platform.
func (p *Platform) ID() driver.PlatformID { return p.id }

// Runtime the platform was discovered with.
func (p *Platform) Runtime() *Runtime { return p.rt }

// Name of the platform.
func (p *Platform) Name() string { return p.name }

// Vendor of the platform.
func (p *Platform) Vendor() string { return p.vendor }

// Version is the OpenCL version string, e.g. "OpenCL 1.2 gocl-host".
func (p *Platform) Version() string { return p.version }

// Profile is "FULL_PROFILE" or "EMBEDDED_PROFILE".
func (p *Platform) Profile() string { return p.profile }

// Extensions supported by all the devices of the platform.
func (p *Platform) Extensions() []string {
	return strings.Fields(p.extensions)
}

// HasExtension returns whether the platform supports the named extension (exact match).
func (p *Platform) HasExtension(name string) bool {
	return slices.Contains(p.Extensions(), name)
}

// String implements fmt.Stringer.
func (p *Platform) String() string {
	return fmt.Sprintf("Platform(%q, %s, %s)", p.name, p.vendor, p.version)
}
