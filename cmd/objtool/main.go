// objtool is a CLI utility for inspecting OBJ assets and watching an asset server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/Faultbox/objwatch/internal/assets"
	"github.com/Faultbox/objwatch/internal/config"
	"github.com/Faultbox/objwatch/internal/logger"
	"github.com/Faultbox/objwatch/internal/network"
	"github.com/Faultbox/objwatch/internal/network/packets"
	"github.com/Faultbox/objwatch/pkg/formats"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "materials", "mtl":
		cmdMaterials(args)
	case "list", "ls":
		cmdList(args)
	case "watch":
		cmdWatch(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`objtool - OBJ/MTL asset utility

Usage:
  objtool <command> [options]

Commands:
  info <file.obj>              Show objects, vertex counts and bounds
  materials <file.mtl>         Show material properties
  list <root>                  List assets found under a directory
  watch [-url URL] <asset>     Print every update the server pushes for an asset
  config [path]                Write the default server config

Examples:
  objtool info public/assets/cube/cube.obj
  objtool list public/assets
  objtool watch -url ws://localhost:3000/assets cube`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fail("Usage: objtool info <file.obj>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fail("Error: %v", err)
	}
	obj, err := formats.ParseOBJ(data)
	if err != nil {
		fail("Error: %v", err)
	}

	fmt.Printf("File:      %s\n", args[0])
	fmt.Printf("Objects:   %d\n", len(obj.Order))
	if len(obj.MaterialLibs) > 0 {
		fmt.Printf("Libraries: %s\n", strings.Join(obj.MaterialLibs, ", "))
	}
	fmt.Println()

	for _, name := range obj.Order {
		printObject(name, obj.Object(name))
	}
	printWarnings(obj.Warnings)
}

func printObject(name string, o *formats.Object) {
	fmt.Printf("%s\n", name)
	fmt.Printf("  vertices:  %d (%d triangles)\n", o.VertexCount(), o.TriangleCount())
	if min, max, ok := o.Bounds(); ok {
		fmt.Printf("  bounds:    [%.3f %.3f %.3f] - [%.3f %.3f %.3f]\n",
			min[0], min[1], min[2], max[0], max[1], max[2])
	}
	if len(o.Materials) > 0 {
		fmt.Printf("  materials: %s\n", strings.Join(o.Materials, ", "))
	}
	if o.MissingRefs > 0 {
		fmt.Printf("  missing:   %d references\n", o.MissingRefs)
	}
}

func printWarnings(warnings []formats.LineWarning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\n%d warnings:\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  %v\n", w)
	}
}

func cmdMaterials(args []string) {
	if len(args) < 1 {
		fail("Usage: objtool materials <file.mtl>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fail("Error: %v", err)
	}
	mtl, err := formats.ParseMTL(data)
	if err != nil {
		fail("Error: %v", err)
	}

	for _, name := range mtl.Order {
		m := mtl.Material(name)
		fmt.Printf("%s\n", name)
		if m.Has(formats.PropAmbient) {
			fmt.Printf("  Ka    %v\n", m.Ambient)
		}
		if m.Has(formats.PropDiffuse) {
			fmt.Printf("  Kd    %v\n", m.Diffuse)
		}
		if m.Has(formats.PropSpecular) {
			fmt.Printf("  Ks    %v\n", m.Specular)
		}
		if m.Has(formats.PropEmission) {
			fmt.Printf("  Ke    %v\n", m.Emission)
		}
		if m.Has(formats.PropSpecularExponent) {
			fmt.Printf("  Ns    %g\n", m.SpecularExponent)
		}
		if m.Has(formats.PropOpticalDensity) {
			fmt.Printf("  Ni    %g\n", m.OpticalDensity)
		}
		if m.Has(formats.PropDissolve) {
			fmt.Printf("  d     %g\n", m.Dissolve)
		}
		if m.Has(formats.PropIllumination) {
			fmt.Printf("  illum %d\n", m.Illumination)
		}
		if m.Has(formats.PropDiffuseMap) {
			fmt.Printf("  map   %s\n", m.DiffuseMap)
		}
	}
	printWarnings(mtl.Warnings)
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fetch := fs.Bool("fetch", false, "Parse every asset and report failures")
	fs.Parse(args)

	cfg := config.Default()
	if fs.NArg() > 0 {
		cfg.Assets.Root = fs.Arg(0)
	}

	m, err := assets.NewManager(cfg.Assets, logger.Named("assets"))
	if err != nil {
		fail("Error: %v", err)
	}
	defer m.Close()

	failed := 0
	for _, name := range m.Names() {
		dir, _ := m.Path(name)
		if !*fetch {
			fmt.Printf("%-20s %s\n", name, dir)
			continue
		}

		asset, err := m.Fetch(context.Background(), name)
		if err != nil {
			fmt.Printf("%-20s %s  ERROR: %v\n", name, dir, err)
			failed++
			continue
		}
		fmt.Printf("%-20s %s  %d objects, %d materials, %d images\n",
			name, dir, len(asset.Objects), len(asset.Materials), len(asset.ImageTextures))
	}

	fmt.Fprintf(os.Stderr, "\n(%d assets found)\n", len(m.Names()))
	if failed > 0 {
		m.Close()
		os.Exit(1)
	}
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:3000/assets", "Asset server websocket URL")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fail("Usage: objtool watch [-url URL] <asset>")
	}
	name := fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := network.New(logger.Named("network"))
	if err := client.Connect(ctx, *url); err != nil {
		fail("Error: %v", err)
	}
	defer client.Disconnect()

	printAsset := func(label string) network.EventHandler {
		return func(msg *packets.Message) error {
			var a assets.Asset
			if err := msg.Unmarshal(&a); err != nil {
				return err
			}
			fmt.Printf("[%s] %s: %d objects, %d materials, %d images\n",
				label, a.Name, len(a.Objects), len(a.Materials), len(a.ImageTextures))
			for objName, o := range a.Objects {
				fmt.Printf("  %-18s %d vertices\n", objName, o.VertexCount())
			}
			return nil
		}
	}
	client.RegisterHandler(packets.EventData, printAsset("data"))
	client.RegisterHandler(packets.EventUpdate, printAsset("update"))
	client.RegisterHandler(packets.EventError, func(msg *packets.Message) error {
		var e packets.AssetError
		if err := msg.Unmarshal(&e); err != nil {
			return err
		}
		fmt.Printf("[error] %s: %s\n", e.AssetName, e.Message)
		return nil
	})

	if err := client.Subscribe(name); err != nil {
		fail("Error: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Watching %s (session %s), Ctrl+C to stop\n", name, client.SessionID())

	if err := client.Process(ctx); err != nil {
		fail("Error: %v", err)
	}
}

func cmdConfig(args []string) {
	path := filepath.Join(config.ConfigDir(), "config.yaml")
	if len(args) > 0 {
		path = args[0]
	}

	if err := config.Default().SaveTo(path); err != nil {
		fail("Error: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}
