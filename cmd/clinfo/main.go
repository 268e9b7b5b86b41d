// clinfo lists the platforms and devices of a driver.
//
// Usage:
//
//	clinfo [-driver=host] [-device_type=all] [-extensions]
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/gocl/cl"
	"github.com/gomlx/gocl/cl/driver"
	_ "github.com/gomlx/gocl/cl/host"
	_ "github.com/gomlx/gocl/cl/opencl"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDriver = flag.String("driver", "",
		fmt.Sprintf("Driver to query, one of %v. Defaults to $%s or %q.", driver.Registered(), cl.DriverEnv, cl.DefaultDriver))
	flagDeviceType = flag.String("device_type", "all",
		"Comma-separated device types to list: default, cpu, gpu, accelerator, custom or all.")
	flagExtensions = flag.Bool("extensions", false, "Also list the extensions of each platform and device.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	filter, err := cl.ParseDeviceType(*flagDeviceType)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	rt, err := cl.Open(*flagDriver)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	platforms, err := rt.Platforms(0)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	fmt.Printf("Driver %q: %d platform(s)\n\n", rt.Driver().Name(), len(platforms))
	renderPlatforms(platforms)
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Platform", "Device", "Type", "Version", "Compute Units", "Max Work-Group",
		"Global Memory", "Local Memory", "Available"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	var numDevices int
	var extensions []string
	for _, p := range platforms {
		devices, err := p.Devices(filter)
		if errors.Is(err, cl.ErrDiscovery) {
			klog.V(1).Infof("%v", err)
			continue
		}
		if err != nil {
			klog.Fatalf("%+v", err)
		}
		for _, d := range devices {
			numDevices++
			table.Append([]string{p.Name(), d.Name(), d.TypeName(), d.Version(),
				fmt.Sprint(d.MaxComputeUnits()), fmt.Sprint(d.MaxWorkGroupSize()),
				humanBytes(d.GlobalMemSize()), humanBytes(d.LocalMemSize()), fmt.Sprint(d.Available())})
			extensions = append(extensions, fmt.Sprintf("%s: %s", d, strings.Join(d.Extensions(), " ")))
		}
	}
	if numDevices == 0 {
		fmt.Printf("No devices of type %q.\n", *flagDeviceType)
		return
	}
	table.Render()
	printExtensions(extensions)
}

func renderPlatforms(platforms []*cl.Platform) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Platform", "Vendor", "Version", "Profile"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	var extensions []string
	for i, p := range platforms {
		table.Append([]string{fmt.Sprint(i), p.Name(), p.Vendor(), p.Version(), p.Profile()})
		extensions = append(extensions, fmt.Sprintf("%s: %s", p, strings.Join(p.Extensions(), " ")))
	}
	table.Render()
	printExtensions(extensions)
}

func printExtensions(lines []string) {
	if !*flagExtensions {
		return
	}
	fmt.Println("\nExtensions:")
	for _, line := range lines {
		fmt.Println("  " + line)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
