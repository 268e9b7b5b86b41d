/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package driver

import (
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Factory creates a driver. It is called at most once per registered name: opened drivers are cached.
type Factory func() (Driver, error)

var (
	// factories maps canonical (lower case) driver names to their factories. Protected by muDrivers.
	factories = make(map[string]Factory)

	// Aliases maps alternative names (lower case) to canonical driver names.
	//
	// You can add names during initialization, but not after it.
	Aliases = map[string]string{
		"cpu":      "host",
		"software": "host",
		"icd":      "opencl",
	}

	// opened caches the drivers already created. Protected by muDrivers.
	opened    = make(map[string]Driver)
	muDrivers sync.Mutex
)

func canonicalName(name string) string {
	name = strings.ToLower(name)
	if canonical, found := Aliases[name]; found {
		return canonical
	}
	return name
}

// Register a driver factory under the given name. Registering the same name twice replaces the factory, but not
// a driver already opened.
//
// Driver packages call it from their init function, so importing them (e.g. `import _ ".../cl/host"`) is
// enough to make them available.
func Register(name string, factory Factory) {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	canonical := canonicalName(name)
	if _, found := factories[canonical]; found {
		klog.Warningf("driver %q registered more than once, using the last one", canonical)
	}
	factories[canonical] = factory
}

// Open returns the driver registered with the given name (or one of its Aliases).
//
// Drivers are singletons: Open returns the same Driver if called again with the same name or an alias.
func Open(name string) (Driver, error) {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	canonical := canonicalName(name)
	if drv, found := opened[canonical]; found {
		return drv, nil
	}
	factory, found := factories[canonical]
	if !found {
		return nil, errors.Errorf("unknown driver %q (canonical form %q), registered drivers: %v -- did you forget to import the driver package?",
			name, canonical, registeredNamesLocked())
	}
	drv, err := factory()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open driver %q", canonical)
	}
	klog.V(1).Infof("opened driver %q", canonical)
	opened[canonical] = drv
	return drv, nil
}

// Registered returns the sorted canonical names of the registered drivers. It doesn't open them.
func Registered() []string {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	return registeredNamesLocked()
}

func registeredNamesLocked() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
