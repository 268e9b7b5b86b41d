// clrun runs a pipeline job described by a YAML file, and verifies its outputs against the expected values
// of the job.
//
// Usage:
//
//	clrun -job=pipeline/testdata/matvec.yaml [-driver=host] [-device_type=gpu] [-v=1]
//
// See package pipeline for the format of the job.
package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"

	"github.com/gomlx/gocl/cl"
	_ "github.com/gomlx/gocl/cl/host"
	_ "github.com/gomlx/gocl/cl/opencl"
	"github.com/gomlx/gocl/pipeline"
	"github.com/janpfeifer/must"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagJob        = flag.String("job", "", "YAML file with the job to run.")
	flagDriver     = flag.String("driver", "", "Driver to use, overrides the one in the job.")
	flagDeviceType = flag.String("device_type", "", "Device type filter, overrides the one in the job, e.g. \"gpu\".")
	flagVerify     = flag.Bool("verify", true, "Verify the outputs against the expected values of the job.")
	flagShow       = flag.Int("show", 8, "Number of elements of each output to print.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagJob == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -job=<job.yaml> [flags...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	job := must.M1(pipeline.LoadJob(*flagJob))
	if *flagDriver != "" {
		job.Driver = *flagDriver
	}
	if *flagDeviceType != "" {
		job.DeviceType = *flagDeviceType
	}
	result, err := pipeline.Run(job)
	if err != nil {
		var buildErr *cl.BuildError
		if errors.As(err, &buildErr) {
			// The build log is the useful part, without the stack.
			klog.Exitf("job %q failed to build:\n%s", job.Name, buildErr)
		}
		klog.Fatalf("job %q failed: %+v", job.Name, err)
	}
	fmt.Printf("Job %q ran on %s\n", job.Name, result.Device)
	if result.BuildLog != "" {
		fmt.Printf("Build log:\n%s\n", result.BuildLog)
	}
	for _, msg := range result.AsyncErrors {
		klog.Warningf("driver reported: %s", msg)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Output", "Length", "Values"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColWidth(100)
	for _, arg := range job.Args {
		flat, found := result.Outputs[arg.Name]
		if !found {
			continue
		}
		v := reflect.ValueOf(flat)
		shown := v.Slice(0, min(v.Len(), *flagShow)).Interface()
		values := fmt.Sprint(shown)
		if v.Len() > *flagShow {
			values = values[:len(values)-1] + " ...]"
		}
		table.Append([]string{arg.Name, fmt.Sprint(v.Len()), values})
	}
	table.Render()

	if *flagVerify {
		if err := job.Verify(result); err != nil {
			klog.Exitf("verification failed: %v", err)
		}
		fmt.Println("Outputs match the expected values.")
	}
}
