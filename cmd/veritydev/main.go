//go:build linux

/*
   Copyright The dmverity Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// veritydev sets up and tears down dm-verity devices from the command
// line.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/docker/go-units"

	"github.com/aadhar-agarwal/dmverity/internal/loopdev"
	"github.com/aadhar-agarwal/dmverity/verity"
)

func usage() {
	fmt.Printf("Usage: veritydev <command> [options]\n")
	fmt.Printf("\nCommands:\n")
	fmt.Printf("  setup      Configure a verified device from an image or block device\n")
	fmt.Printf("  remove     Tear down a previously configured device\n")
	fmt.Printf("  supported  Check whether the kernel supports dm-verity\n")
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  veritydev setup -device bundle.img -loop            Use the bundle.img.dmverity sidecar\n")
	fmt.Printf("  veritydev setup -config mapping.yaml                Use a YAML mapping description\n")
	fmt.Printf("  veritydev setup -device /dev/sdb2 -size 64MB -root-hash <hex> -salt <hex>\n")
	fmt.Printf("  veritydev remove -id <uuid> -device /dev/dm-0 -deferred\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "setup":
		err = runSetup(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "supported":
		err = runSupported()
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.L.WithError(err).Error(os.Args[1] + " failed")
		os.Exit(1)
	}
}

func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	var (
		device     = fs.String("device", "", "Backing block device or image file")
		configPath = fs.String("config", "", "YAML mapping description (overrides the other flags)")
		sizeStr    = fs.String("size", "", "Protected data size, e.g. '64MB' (defaults to the metadata sidecar value)")
		rootHash   = fs.String("root-hash", "", "Hash tree root digest, hex or 'sha256:...'")
		salt       = fs.String("salt", "", "Hash tree salt, hex")
		useLoop    = fs.Bool("loop", false, "Attach the device argument as a read-only loop device first")
	)
	fs.Parse(args)

	var (
		m    *verity.Mapping
		err  error
		loop = *useLoop
	)
	switch {
	case *configPath != "":
		var c *verity.Config
		if c, err = verity.LoadConfig(*configPath); err != nil {
			return err
		}
		loop = loop || c.Loop
		lower, lerr := attach(c.Device, loop)
		if lerr != nil {
			return lerr
		}
		if m, err = c.NewMapping(lower); err != nil {
			detach(lower, loop)
			return err
		}
	case *device == "":
		return fmt.Errorf("either -device or -config is required")
	case *rootHash == "":
		// No explicit parameters: read the image's metadata sidecar.
		md, merr := verity.ReadMetadata(*device)
		if merr != nil {
			return merr
		}
		lower, lerr := attach(*device, loop)
		if lerr != nil {
			return lerr
		}
		m = md.NewMapping(lower)
	default:
		if *salt == "" {
			return fmt.Errorf("-salt is required with -root-hash")
		}
		if *sizeStr == "" {
			return fmt.Errorf("-size is required with -root-hash")
		}
		size, serr := units.RAMInBytes(*sizeStr)
		if serr != nil {
			return fmt.Errorf("invalid -size %q: %w", *sizeStr, serr)
		}
		lower, lerr := attach(*device, loop)
		if lerr != nil {
			return lerr
		}
		m = verity.NewMapping()
		m.LowerDevice = lower
		m.DataSize = uint64(size)
		m.RootDigest = *rootHash
		m.Salt = *salt
	}

	if err := m.Setup(); err != nil {
		detach(m.LowerDevice, loop)
		return err
	}

	fmt.Printf("id:\t%s\ndevice:\t%s\n", m.ID(), m.UpperDevice)
	return nil
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	var (
		id       = fs.String("id", "", "Mapping identifier printed by setup")
		device   = fs.String("device", "", "Mapped device node printed by setup")
		deferred = fs.Bool("deferred", false, "Defer teardown until the last open reference is closed")
		loopDev  = fs.String("detach-loop", "", "Loop device to release after removal")
	)
	fs.Parse(args)

	if *id == "" || *device == "" {
		return fmt.Errorf("-id and -device are required")
	}

	m := verity.MappingWithID(*id, *device)
	if err := m.Remove(*deferred); err != nil {
		return err
	}
	if *loopDev != "" {
		return loopdev.Detach(*loopDev)
	}
	return nil
}

func runSupported() error {
	supported, err := verity.IsSupported()
	if !supported {
		return err
	}
	fmt.Println("dm-verity is supported")
	return nil
}

func attach(device string, loop bool) (string, error) {
	if !loop {
		return device, nil
	}
	lower, err := loopdev.Attach(device)
	if err != nil {
		return "", err
	}
	log.L.WithField("device", lower).Debug("attached loop device")
	return lower, nil
}

func detach(device string, loop bool) {
	if !loop {
		return
	}
	if err := loopdev.Detach(device); err != nil {
		log.L.WithError(err).Warn("failed to release loop device")
	}
}
