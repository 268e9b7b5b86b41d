package clc

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Options configure a compilation. They are usually created from a build options string with ParseOptions,
// and then the target device's properties (Extensions, DeviceVersion) are filled in by the driver.
type Options struct {
	// Defines are macros defined with -D. "-DNAME" alone defines NAME as 1.
	Defines map[string]string

	// IncludeDirs given with -I. They are accepted but unused, since #include is not supported.
	IncludeDirs []string

	// LanguageVersion in the form 100, 110, 120, 200 or 300, set by -cl-std. 0 means 120.
	LanguageVersion int

	// NoWarnings (-w) suppresses warnings, WarningsAsErrors (-Werror) turns them into errors.
	NoWarnings, WarningsAsErrors bool

	// FastRelaxedMath (-cl-fast-relaxed-math) defines __FAST_RELAXED_MATH__.
	FastRelaxedMath bool

	// Extensions supported by the target device, e.g. "cl_khr_fp64". They enable the corresponding types and
	// are defined as macros.
	Extensions []string

	// DeviceVersion defines __OPENCL_VERSION__, in the same form as LanguageVersion. 0 means 120.
	DeviceVersion int
}

// ignoredOptions are valid optimization options that don't change the semantics of the host compiler.
var ignoredOptions = map[string]bool{
	"-cl-opt-disable":                        true,
	"-cl-mad-enable":                         true,
	"-cl-no-signed-zeros":                    true,
	"-cl-unsafe-math-optimizations":          true,
	"-cl-finite-math-only":                   true,
	"-cl-denorms-are-zero":                   true,
	"-cl-single-precision-constant":          true,
	"-cl-fp32-correctly-rounded-divide-sqrt": true,
	"-cl-kernel-arg-info":                    true,
	"-cl-uniform-work-group-size":            true,
	"-cl-no-subgroup-ifp":                    true,
}

var languageVersions = map[string]int{
	"CL1.0": 100,
	"CL1.1": 110,
	"CL1.2": 120,
	"CL2.0": 200,
	"CL3.0": 300,
}

// ParseOptions parses a build options string, as given to clBuildProgram.
// It returns an error for unknown or malformed options.
func ParseOptions(options string) (Options, error) {
	var opts Options
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		opt := fields[i]
		// Options that take an argument, either attached or as the next field.
		if arg, isDefine, err := optionArgument(fields, &i, "-D"); isDefine {
			if err != nil {
				return opts, err
			}
			name, body, _ := strings.Cut(arg, "=")
			if name == "" || !isIdentStart(name[0]) {
				return opts, errors.Errorf("invalid macro name in build option -D%s", arg)
			}
			if opts.Defines == nil {
				opts.Defines = make(map[string]string)
			}
			if !strings.Contains(arg, "=") {
				body = "1"
			}
			opts.Defines[name] = body
			continue
		}
		if arg, isInclude, err := optionArgument(fields, &i, "-I"); isInclude {
			if err != nil {
				return opts, err
			}
			opts.IncludeDirs = append(opts.IncludeDirs, arg)
			continue
		}
		switch {
		case opt == "-w":
			opts.NoWarnings = true
		case opt == "-Werror":
			opts.WarningsAsErrors = true
		case opt == "-cl-fast-relaxed-math":
			opts.FastRelaxedMath = true
		case strings.HasPrefix(opt, "-cl-std="):
			version, found := languageVersions[strings.TrimPrefix(opt, "-cl-std=")]
			if !found {
				return opts, errors.Errorf("invalid value for build option %q", opt)
			}
			opts.LanguageVersion = version
		case ignoredOptions[opt]:
		default:
			return opts, errors.Errorf("unknown build option %q", opt)
		}
	}
	return opts, nil
}

// optionArgument handles options like "-DNAME" or "-D NAME". It returns matched=false if fields[*i] is not
// the option.
func optionArgument(fields []string, i *int, option string) (arg string, matched bool, err error) {
	if !strings.HasPrefix(fields[*i], option) {
		return "", false, nil
	}
	arg = strings.TrimPrefix(fields[*i], option)
	if arg != "" {
		return arg, true, nil
	}
	if *i+1 >= len(fields) {
		return "", true, errors.Errorf("missing argument for build option %s", option)
	}
	*i++
	return fields[*i], true, nil
}

func (o *Options) hasExtension(name string) bool {
	for _, ext := range o.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// predefinedMacros returns the macros defined before the sources are preprocessed, including the -D ones.
func (o *Options) predefinedMacros() map[string]string {
	languageVersion := o.LanguageVersion
	if languageVersion == 0 {
		languageVersion = 120
	}
	deviceVersion := o.DeviceVersion
	if deviceVersion == 0 {
		deviceVersion = 120
	}
	macros := map[string]string{
		"__OPENCL_VERSION__":   strconv.Itoa(deviceVersion),
		"__OPENCL_C_VERSION__": strconv.Itoa(languageVersion),
		"CL_VERSION_1_0":       "100",
		"CL_VERSION_1_1":       "110",
		"CL_VERSION_1_2":       "120",
		"CL_VERSION_2_0":       "200",
		"CL_VERSION_3_0":       "300",
		"__ENDIAN_LITTLE__":    "1",
		"__kernel_exec":        "",
		"CLK_LOCAL_MEM_FENCE":  "1",
		"CLK_GLOBAL_MEM_FENCE": "2",
		"NULL":                 "0",
		"CHAR_BIT":             "8",
		"CHAR_MAX":             "127",
		"CHAR_MIN":             "(-127-1)",
		"UCHAR_MAX":            "255",
		"SHRT_MAX":             "32767",
		"SHRT_MIN":             "(-32767-1)",
		"USHRT_MAX":            "65535",
		"INT_MAX":              "2147483647",
		"INT_MIN":              "(-2147483647-1)",
		"UINT_MAX":             "0xffffffffU",
		"LONG_MAX":             "0x7fffffffffffffffL",
		"LONG_MIN":             "(-0x7fffffffffffffffL-1)",
		"ULONG_MAX":            "0xffffffffffffffffUL",
		"FLT_MAX":              "3.402823466e+38f",
		"FLT_MIN":              "1.175494351e-38f",
		"FLT_EPSILON":          "1.1920928955078125e-7f",
		"MAXFLOAT":             "3.402823466e+38f",
		"HUGE_VALF":            "(1.0f/0.0f)",
		"INFINITY":             "(1.0f/0.0f)",
		"NAN":                  "(0.0f/0.0f)",
		"M_E_F":                "2.71828183f",
		"M_LN2_F":              "0.69314718f",
		"M_PI_F":               "3.14159265f",
		"M_PI_2_F":             "1.57079633f",
		"M_1_PI_F":             "0.31830989f",
		"M_SQRT2_F":            "1.41421356f",
	}
	for _, ext := range o.Extensions {
		macros[ext] = "1"
	}
	if o.hasExtension("cl_khr_fp64") {
		macros["M_PI"] = "3.141592653589793"
		macros["M_E"] = "2.718281828459045"
		macros["DBL_MAX"] = "1.7976931348623158e+308"
		macros["DBL_EPSILON"] = "2.220446049250313e-16"
	}
	if o.FastRelaxedMath {
		macros["__FAST_RELAXED_MATH__"] = "1"
	}
	for name, body := range o.Defines {
		macros[name] = body
	}
	return macros
}
