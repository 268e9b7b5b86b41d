package host

import (
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigEnv is the environment variable with the path of a YAML Config file, used by the "host" driver
// registered by this package. If unset, DefaultConfig is used.
const ConfigEnv = "GOCL_HOST_CONFIG"

// Config describes the simulated platforms and devices of a host driver.
type Config struct {
	Platforms []PlatformConfig `yaml:"platforms"`

	// ProgramCacheSize is the number of compiled programs kept in the LRU cache shared by all contexts.
	// If 0, a default of 64 is used.
	ProgramCacheSize int `yaml:"program_cache_size"`
}

// PlatformConfig describes one platform.
type PlatformConfig struct {
	Name       string   `yaml:"name"`
	Vendor     string   `yaml:"vendor"`
	Version    string   `yaml:"version"`
	Profile    string   `yaml:"profile"`
	Extensions []string `yaml:"extensions"`

	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one device. Zero values are replaced by defaults, see Config.normalize.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Vendor   string `yaml:"vendor"`
	VendorID uint32 `yaml:"vendor_id"`

	// Type is one of "cpu", "gpu", "accelerator" or "custom".
	Type string `yaml:"type"`

	// Version is reported as CL_DEVICE_VERSION. It defaults to the platform version.
	Version string `yaml:"version"`

	// Extensions defaults to the platform extensions. "cl_khr_fp64" and "cl_khr_fp16" enable the double and
	// half types in kernels.
	Extensions []string `yaml:"extensions"`

	// ComputeUnits is the number of work-groups executed concurrently.
	ComputeUnits     int   `yaml:"compute_units"`
	MaxWorkGroupSize int   `yaml:"max_work_group_size"`
	AddressBits      int   `yaml:"address_bits"`
	GlobalMemSize    int64 `yaml:"global_mem_size"`
	MaxMemAllocSize  int64 `yaml:"max_mem_alloc_size"`
	LocalMemSize     int64 `yaml:"local_mem_size"`

	// Unavailable devices are listed but can't be used in contexts.
	Unavailable bool `yaml:"unavailable"`
}

const defaultProgramCacheSize = 64

// DefaultConfig returns the default topology: a "Go Host Platform" with a CPU and a simulated GPU device, and a
// "Go Reference Platform" with one accelerator and no optional extensions.
func DefaultConfig() Config {
	return Config{
		Platforms: []PlatformConfig{
			{
				Name:    "Go Host Platform",
				Vendor:  "gocl",
				Version: "OpenCL 1.2 gocl-host",
				Profile: "FULL_PROFILE",
				Extensions: []string{
					"cl_khr_icd", "cl_khr_fp64", "cl_khr_fp16", "cl_khr_byte_addressable_store",
					"cl_khr_global_int32_base_atomics",
				},
				Devices: []DeviceConfig{
					{Name: "Go Host CPU", Type: "cpu", ComputeUnits: 4, MaxWorkGroupSize: 1024},
					{Name: "Go Simulated GPU", Type: "gpu", ComputeUnits: 8, MaxWorkGroupSize: 256, LocalMemSize: 48 << 10},
				},
			},
			{
				Name:       "Go Reference Platform",
				Vendor:     "gocl",
				Version:    "OpenCL 1.2 gocl-reference",
				Profile:    "EMBEDDED_PROFILE",
				Extensions: []string{"cl_khr_icd"},
				Devices: []DeviceConfig{
					{Name: "Go Reference Accelerator", Type: "accelerator", ComputeUnits: 1, MaxWorkGroupSize: 64},
				},
			},
		},
	}
}

// LoadConfig reads a YAML Config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read host driver configuration")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse host driver configuration %q", path)
	}
	return cfg, nil
}

var deviceTypes = map[string]driver.DeviceType{
	"cpu":         driver.DeviceTypeCPU,
	"gpu":         driver.DeviceTypeGPU,
	"accelerator": driver.DeviceTypeAccelerator,
	"custom":      driver.DeviceTypeCustom,
}

// normalize validates the configuration and fills in the defaults.
func (cfg *Config) normalize() error {
	if cfg.ProgramCacheSize <= 0 {
		cfg.ProgramCacheSize = defaultProgramCacheSize
	}
	for pi := range cfg.Platforms {
		p := &cfg.Platforms[pi]
		if p.Name == "" {
			return errors.Errorf("host driver configuration: platform #%d has no name", pi)
		}
		if p.Vendor == "" {
			p.Vendor = "gocl"
		}
		if p.Version == "" {
			p.Version = "OpenCL 1.2 gocl-host"
		}
		if p.Profile == "" {
			p.Profile = "FULL_PROFILE"
		}
		for di := range p.Devices {
			d := &p.Devices[di]
			if d.Name == "" {
				return errors.Errorf("host driver configuration: device #%d of platform %q has no name", di, p.Name)
			}
			if d.Type == "" {
				d.Type = "cpu"
			}
			d.Type = strings.ToLower(d.Type)
			if _, found := deviceTypes[d.Type]; !found {
				return errors.Errorf("host driver configuration: device %q has invalid type %q, valid types are cpu, gpu, accelerator and custom",
					d.Name, d.Type)
			}
			if d.Vendor == "" {
				d.Vendor = p.Vendor
			}
			if d.Version == "" {
				d.Version = p.Version
			}
			if d.Extensions == nil {
				d.Extensions = p.Extensions
			}
			if d.ComputeUnits <= 0 {
				d.ComputeUnits = 1
			}
			if d.MaxWorkGroupSize <= 0 {
				d.MaxWorkGroupSize = 256
			}
			if d.AddressBits == 0 {
				d.AddressBits = 64
			}
			if d.AddressBits != 32 && d.AddressBits != 64 {
				return errors.Errorf("host driver configuration: device %q has invalid address_bits %d", d.Name, d.AddressBits)
			}
			if d.GlobalMemSize <= 0 {
				d.GlobalMemSize = 1 << 30
			}
			if d.MaxMemAllocSize <= 0 {
				d.MaxMemAllocSize = d.GlobalMemSize / 4
			}
			if d.LocalMemSize <= 0 {
				d.LocalMemSize = 32 << 10
			}
		}
	}
	return nil
}

// languageVersion converts a version string like "OpenCL 1.2 gocl-host" to the form of __OPENCL_VERSION__,
// e.g. 120. It returns 0 if the string can't be parsed.
func languageVersion(version string) int {
	fields := strings.Fields(version)
	if len(fields) < 2 || fields[0] != "OpenCL" {
		return 0
	}
	major, minor, found := strings.Cut(fields[1], ".")
	if !found {
		return 0
	}
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return 0
	}
	return ma*100 + mi*10
}
