//go:build opencl && linux

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

package opencl

// #cgo LDFLAGS: -ldl
/*
#include <stdlib.h>
#include <dlfcn.h>
*/
import "C"

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	reLdConfInclude = regexp.MustCompile(`^\s*include\s+(.*?)\s*$`)
	reLdConfComment = regexp.MustCompile(`^\s*(#|$)`)
)

// libraryPaths returns the absolute directories of LD_LIBRARY_PATH followed by the ones listed in
// /etc/ld.so.conf (and the files it includes), without duplicates.
func libraryPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(dir string) {
		if dir == "" || !filepath.IsAbs(dir) || seen[dir] {
			return
		}
		seen[dir] = true
		paths = append(paths, dir)
	}
	for _, dir := range strings.Split(os.Getenv("LD_LIBRARY_PATH"), ":") {
		add(dir)
	}
	for _, dir := range ldConfPaths("/etc/ld.so.conf", make(map[string]bool)) {
		add(dir)
	}
	klog.V(2).Infof("opencl: library paths %v", paths)
	return paths
}

// ldConfPaths parses a ld.so.conf file, following its include directives.
func ldConfPaths(filePath string, visited map[string]bool) []string {
	if visited[filePath] {
		return nil
	}
	visited[filePath] = true
	file, err := os.Open(filePath)
	if err != nil {
		klog.V(1).Infof("opencl: can't read library paths from %q: %v", filePath, err)
		return nil
	}
	defer func() { _ = file.Close() }()

	var paths []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case reLdConfComment.MatchString(line):
		case reLdConfInclude.MatchString(line):
			pattern := reLdConfInclude.FindStringSubmatch(line)[1]
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(filepath.Dir(filePath), pattern)
			}
			files, err := filepath.Glob(pattern)
			if err != nil {
				klog.Errorf("opencl: bad include %q in %q: %v", pattern, filePath, err)
				continue
			}
			slices.Sort(files)
			for _, included := range files {
				paths = append(paths, ldConfPaths(included, visited)...)
			}
		default:
			paths = append(paths, strings.TrimSpace(line))
		}
	}
	if err := scanner.Err(); err != nil {
		klog.Errorf("opencl: failed reading %q: %v", filePath, err)
	}
	return paths
}

// library is an open dlopen handle. It is never closed once the driver is created.
type library struct {
	handle unsafe.Pointer
	path   string
}

// openLibrary loads the OpenCL ICD loader: the one given by LibraryEnv, or the first of LibraryNames found in
// the library paths. As a last resort the bare names are given to dlopen, which uses the system defaults.
func openLibrary() (*library, error) {
	var candidates []string
	if path := os.Getenv(LibraryEnv); path != "" {
		candidates = append(candidates, path)
	} else {
		for _, dir := range libraryPaths() {
			for _, name := range LibraryNames {
				candidates = append(candidates, filepath.Join(dir, name))
			}
		}
		candidates = append(candidates, LibraryNames...)
	}
	for _, candidate := range candidates {
		nameC := C.CString(candidate)
		handle := C.dlopen(nameC, C.RTLD_NOW|C.RTLD_LOCAL)
		C.free(unsafe.Pointer(nameC))
		if handle == nil {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				klog.Warningf("opencl: failed to load %q (%s), check its dependencies with `ldd %s`",
					candidate, C.GoString(C.dlerror()), candidate)
			}
			continue
		}
		klog.V(1).Infof("opencl: loaded %s", candidate)
		return &library{handle: handle, path: candidate}, nil
	}
	return nil, errors.Errorf("failed to load the OpenCL ICD loader, tried %q -- set $%s to its path",
		candidates, LibraryEnv)
}

// symbol returns the address of the named function.
func (l *library) symbol(name string) (unsafe.Pointer, error) {
	nameC := C.CString(name)
	defer C.free(unsafe.Pointer(nameC))
	C.dlerror()
	p := C.dlsym(l.handle, nameC)
	if e := C.dlerror(); e != nil {
		return nil, errors.Errorf("symbol %q not found in %s: %s", name, l.path, C.GoString(e))
	}
	if p == nil {
		return nil, errors.Errorf("symbol %q is nil in %s", name, l.path)
	}
	return p, nil
}

// close the library, used only if the driver fails to initialize.
func (l *library) close() {
	C.dlerror()
	C.dlclose(l.handle)
	if e := C.dlerror(); e != nil {
		klog.Errorf("opencl: failed to close %s: %s", l.path, C.GoString(e))
	}
}
