// Package pipeline runs a kernel end to end: resolve a device, create a context, build the module from source,
// find the kernel, create the buffers, dispatch and read the results back. What to run is described by a Job,
// which can be loaded from YAML.
package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/gomlx/gocl/cl"
	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gopkg.in/yaml.v3"
)

// ArgKind is the role of a kernel argument in a Job.
type ArgKind string

const (
	// Input is a read-only buffer initialized with the argument data.
	Input ArgKind = "input"

	// Output is a write-only buffer of Size elements, read back after the kernel completes.
	Output ArgKind = "output"

	// InOut is a read-write buffer initialized with the argument data, read back after the kernel completes.
	InOut ArgKind = "inout"

	// Scalar is passed by value. Its data has exactly one element.
	Scalar ArgKind = "scalar"

	// Local is a __local memory pointer of Size bytes per work-group.
	Local ArgKind = "local"
)

// Arg is one kernel argument, in the order of the kernel parameters.
type Arg struct {
	Name string  `yaml:"name"`
	Kind ArgKind `yaml:"kind"`

	// DType of the elements, e.g. "Float32" or "F32". Defaults to the type of Data, or Float32.
	DType string `yaml:"dtype"`

	// Values initialize Input, InOut and Scalar arguments, converted to DType.
	Values []float64 `yaml:"values"`

	// Data is a flat slice (or a scalar for Scalar arguments) of a dtypes.Supported type. If set, it takes
	// precedence over Values. It can't be given in YAML.
	Data any `yaml:"-"`

	// Size is the number of elements of an Output, or the number of bytes of a Local argument.
	Size int `yaml:"size"`

	// Expected values for Output and InOut arguments, checked by Job.Verify.
	Expected []float64 `yaml:"expected"`
}

// Job describes one run of the pipeline.
type Job struct {
	Name string `yaml:"name"`

	// Driver name, see cl.Open. If empty, the GOCL_DRIVER environment variable or cl.DefaultDriver is used.
	Driver string `yaml:"driver"`

	// DeviceType filter, as accepted by cl.ParseDeviceType, e.g. "gpu". Defaults to "all".
	DeviceType string `yaml:"device_type"`

	// PlatformExtension, if set, restricts the search to the first platform with this extension.
	PlatformExtension string `yaml:"platform_extension"`

	// Sources of the module, concatenated with the contents of SourceFiles.
	Sources     []string `yaml:"sources"`
	SourceFiles []string `yaml:"source_files"`

	// Options passed to the build, e.g. "-D N=4".
	Options string `yaml:"options"`

	Kernel string `yaml:"kernel"`
	Args   []Arg  `yaml:"args"`

	// Global and Local work sizes. Local may be empty, to let the driver choose.
	Global []int `yaml:"global"`
	Local  []int `yaml:"local"`

	// Ordering of the queue: "in_order" (default) or "out_of_order".
	Ordering string `yaml:"ordering"`

	// dir is the directory of the YAML file the job was loaded from, SourceFiles are relative to it.
	dir string
}

// LoadJob reads a Job from a YAML file. Relative SourceFiles are resolved against the file directory.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job")
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "job %q", path)
	}
	job.dir = filepath.Dir(path)
	return job, nil
}

// ParseJob parses a Job in YAML.
func ParseJob(data []byte) (*Job, error) {
	job := &Job{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(job); err != nil {
		return nil, errors.Wrapf(err, "failed to parse job")
	}
	return job, nil
}

// LoadSources returns the job sources followed by the full contents of each of the SourceFiles.
func (job *Job) LoadSources() ([]string, error) {
	sources := append([]string(nil), job.Sources...)
	for _, file := range job.SourceFiles {
		path := file
		if job.dir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(job.dir, path)
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read kernel source")
		}
		sources = append(sources, string(contents))
	}
	if len(sources) == 0 {
		return nil, errors.Errorf("job %q has no sources", job.Name)
	}
	return sources, nil
}

// validate checks the job before anything is created.
func (job *Job) validate() error {
	if job.Kernel == "" {
		return errors.Errorf("job %q has no kernel name", job.Name)
	}
	if len(job.Global) == 0 {
		return errors.Errorf("job %q has no global work size", job.Name)
	}
	if _, err := job.ordering(); err != nil {
		return err
	}
	names := make(map[string]bool)
	for i := range job.Args {
		arg := &job.Args[i]
		if arg.Name == "" {
			return errors.Errorf("job %q argument #%d has no name", job.Name, i)
		}
		if names[arg.Name] {
			return errors.Errorf("job %q has more than one argument named %q", job.Name, arg.Name)
		}
		names[arg.Name] = true
		switch arg.Kind {
		case Input, InOut, Scalar:
			if arg.Data == nil && arg.Values == nil {
				return errors.Errorf("job %q argument %q (%s) has no values", job.Name, arg.Name, arg.Kind)
			}
		case Output, Local:
			if arg.Size <= 0 {
				return errors.Errorf("job %q argument %q (%s) requires a positive size", job.Name, arg.Name, arg.Kind)
			}
		default:
			return errors.Errorf("job %q argument %q has invalid kind %q, valid kinds are input, output, inout, scalar and local",
				job.Name, arg.Name, arg.Kind)
		}
		if arg.Expected != nil && arg.Kind != Output && arg.Kind != InOut {
			return errors.Errorf("job %q argument %q (%s) can't have expected values", job.Name, arg.Name, arg.Kind)
		}
	}
	return nil
}

func (job *Job) ordering() (cl.Ordering, error) {
	switch strings.ToLower(job.Ordering) {
	case "", "in_order":
		return cl.InOrder, nil
	case "out_of_order":
		return cl.OutOfOrder, nil
	}
	return cl.InOrder, errors.Errorf("job %q has invalid ordering %q, valid values are in_order and out_of_order", job.Name, job.Ordering)
}

// dtype of the argument elements.
func (arg *Arg) dtype() (dtypes.DType, error) {
	if arg.DType != "" {
		dtype := dtypes.FromName(arg.DType)
		if dtype == dtypes.InvalidDType {
			return dtype, errors.Errorf("argument %q has unknown dtype %q", arg.Name, arg.DType)
		}
		return dtype, nil
	}
	if arg.Data != nil {
		t := reflect.TypeOf(arg.Data)
		if t.Kind() == reflect.Slice {
			t = t.Elem()
		}
		dtype := dtypes.FromGoType(t)
		if dtype == dtypes.InvalidDType {
			return dtype, errors.Errorf("argument %q data of unsupported type %T", arg.Name, arg.Data)
		}
		return dtype, nil
	}
	return dtypes.Float32, nil
}

// flat returns the argument data as a flat slice of its dtype.
func (arg *Arg) flat() (any, dtypes.DType, error) {
	dtype, err := arg.dtype()
	if err != nil {
		return nil, dtype, err
	}
	if arg.Data != nil {
		v := reflect.ValueOf(arg.Data)
		if v.Kind() != reflect.Slice {
			// A scalar.
			slice := reflect.MakeSlice(reflect.SliceOf(v.Type()), 1, 1)
			slice.Index(0).Set(v)
			v = slice
		}
		if dtypes.FromGoType(v.Type().Elem()) != dtype {
			return nil, dtype, errors.Errorf("argument %q data of type %T doesn't match dtype %s", arg.Name, arg.Data, dtype)
		}
		return v.Interface(), dtype, nil
	}
	flat, err := valuesToFlat(dtype, arg.Values)
	if err != nil {
		return nil, dtype, errors.WithMessagef(err, "argument %q", arg.Name)
	}
	return flat, dtype, nil
}

// valuesToFlat converts values to a flat slice of the dtype.
func valuesToFlat(dtype dtypes.DType, values []float64) (any, error) {
	flat, err := dtypes.MakeFlat(dtype, len(values))
	if err != nil {
		return nil, err
	}
	switch typed := flat.(type) {
	case []float16.Float16:
		for i, v := range values {
			typed[i] = float16.Fromfloat32(float32(v))
		}
		return flat, nil
	case []bool:
		for i, v := range values {
			typed[i] = v != 0
		}
		return flat, nil
	}
	flatV := reflect.ValueOf(flat)
	elemType := flatV.Type().Elem()
	for i, v := range values {
		flatV.Index(i).Set(reflect.ValueOf(v).Convert(elemType))
	}
	return flat, nil
}
