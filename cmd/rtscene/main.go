package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/gekko3d/rtscene"
	"github.com/gekko3d/rtscene/rt/gpu"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	backend := flag.String("backend", "", "GPU backend: soft or wgpu (overrides config)")
	scene := flag.Int("scene", -1, "Scene index to instance (default: document default scene)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.gltf|file.glb>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configPath, *backend, *scene, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "rtscene: %v\n", err)
		os.Exit(1)
	}
}

func run(path, configPath, backend string, scene int, debug bool) error {
	cfg, err := rtscene.LoadConfig(configPath)
	if err != nil {
		return err
	}
	// Priority: defaults < config file < flags.
	if backend != "" {
		cfg.GPU.Backend = backend
	}
	if scene >= 0 {
		cfg.Loader.Scene = &scene
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := rtscene.NewLogger(cfg.Logging, true)
	defer func() { _ = log.Sync() }()

	provider, closeProvider, err := rtscene.NewProvider(cfg.GPU)
	if err != nil {
		return err
	}
	defer closeProvider()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := rtscene.Load(ctx, provider, path, rtscene.WithConfig(cfg), rtscene.WithLogger(log))
	if err != nil {
		return err
	}
	defer s.Release()

	printSummary(s)
	return nil
}

func printSummary(s *rtscene.Scene) {
	fmt.Printf("scene %q (%s)\n", s.Name(), s.ID())
	fmt.Printf("  meshes:     %d\n", len(s.Meshes()))
	fmt.Printf("  instances:  %d\n", len(s.Instances()))
	fmt.Printf("  primitives: %d\n", s.PrimitiveCount())
	fmt.Printf("  materials:  %d\n", len(s.Materials()))
	fmt.Printf("  samplers:   %d\n", len(s.Samplers()))
	fmt.Printf("  images:     %d\n", len(s.Images()))

	fmt.Printf("  index buffer:  %d bytes\n", s.IndexBuffer().Buffer.Size())
	fmt.Printf("  vertex buffer: %d bytes\n", s.VertexBuffer().Buffer.Size())
	if v, ok := s.ColorBuffer(); ok {
		fmt.Printf("  color buffer:  %d bytes\n", v.Buffer.Size())
	}
	if v, ok := s.TexCoordBuffer(); ok {
		fmt.Printf("  texcoord buffer: %d bytes\n", v.Buffer.Size())
	}

	if tlas := s.TLAS(); tlas != nil {
		b := tlas.Bounds()
		fmt.Printf("  tlas: %d instances, bounds %v - %v\n", tlas.Instances(), b[0], b[1])
	}
	for i, blas := range s.BLASes() {
		name := s.Meshes()[i].Name
		fmt.Printf("    blas %d %q: %d geometries\n", i, name, blas.Geometries())
	}
	if soft, ok := s.TLAS().(*gpu.SoftTLAS); ok {
		fmt.Printf("  tlas nodes: %d\n", len(soft.Nodes()))
	}
}
