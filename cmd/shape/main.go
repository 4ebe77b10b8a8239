package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/passes"
	"github.com/wippyai/wasm-shaper/shake"
	"github.com/wippyai/wasm-shaper/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm module")
		passList    = flag.String("passes", "", "Pass pipeline (comma-separated): treeshake,maxssa,opt,splice,frint,fts[:fuel],fuse,unmem,unmem-imports,cff,split,reorder,reorder-mems")
		outFile     = flag.String("o", "", "Output file for the rewritten module")
		dump        = flag.Bool("dump", false, "Print the module as textual IR and exit")
		verify      = flag.Bool("verify", true, "Compile the emitted module with wazero to check it")
		seed        = flag.Int64("seed", 1, "Seed for the randomized flattening passes")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: shape -wasm <file.wasm> [-passes p1,p2,...] [-o out.wasm]")
		fmt.Fprintln(os.Stderr, "       shape -wasm <file.wasm> -dump")
		fmt.Fprintln(os.Stderr, "       shape -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			ir.SetLogger(logger)
			passes.SetLogger(logger)
			shake.SetLogger(logger)
		}
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *passList, *outFile, *dump, *verify, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, passList, outFile string, dump, verify bool, seed int64) error {
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	m, err := wasm.Decode(data, wasm.FrontendOptions{DebugNames: true})
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if passList != "" {
		if err := m.ExpandAllFuncs(); err != nil {
			return fmt.Errorf("expand: %w", err)
		}
		for _, name := range strings.Split(passList, ",") {
			m, err = runPass(m, strings.TrimSpace(name), seed)
			if err != nil {
				return fmt.Errorf("pass %s: %w", name, err)
			}
		}
	}

	if dump {
		fmt.Print(m.Display())
		return nil
	}

	out, err := wasm.Encode(m)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if verify {
		if err := compileCheck(out); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}

	if outFile == "" {
		fmt.Printf("ok: %d bytes in, %d bytes out, %d functions\n", len(data), len(out), m.Funcs.Len())
		return nil
	}
	return os.WriteFile(outFile, out, 0o644)
}

func runPass(m *ir.Module, name string, seed int64) (*ir.Module, error) {
	fuel := 0
	if rest, ok := strings.CutPrefix(name, "fts:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("bad fuel %q", rest)
		}
		name, fuel = "fts", n
	}
	switch name {
	case "treeshake":
		return shake.TreeShake(m)
	case "maxssa":
		m.PerFuncBody(func(f *ir.FunctionBody) { passes.MaxSSA(f, nil) })
	case "opt":
		passes.OptimizeModule(m, passes.DefaultOptOptions())
	case "splice":
		if err := passes.SpliceModule(m); err != nil {
			return nil, err
		}
	case "frint":
		if err := shake.FrintModule(m); err != nil {
			return nil, err
		}
	case "fts":
		if err := shake.FtsModule(m, fuel); err != nil {
			return nil, err
		}
	case "fuse":
		if err := passes.FuseModule(m); err != nil {
			return nil, err
		}
	case "unmem":
		passes.MetafuseAll(m, passes.All{})
	case "unmem-imports":
		passes.MetafuseAll(m, passes.ImportsOnly{})
	case "cff":
		r := &passes.Rand{R: rand.New(rand.NewSource(seed))}
		m.PerFuncBody(func(f *ir.FunctionBody) { passes.CFF(f, r) })
	case "split":
		r := &passes.Rand{R: rand.New(rand.NewSource(seed))}
		var err error
		m.PerFuncBody(func(f *ir.FunctionBody) {
			if e := passes.SplitBlocks(f, r); e != nil && err == nil {
				err = e
			}
		})
		if err != nil {
			return nil, err
		}
	case "reorder":
		passes.FixupOrders(m)
	case "reorder-mems":
		passes.FixupMemOrders(m)
	default:
		return nil, fmt.Errorf("unknown pass %q", name)
	}
	return m, nil
}

// compileCheck compiles the emitted binary with wazero. Modules using
// features wazero lacks (tail calls, GC types) are reported, not
// rejected.
func compileCheck(data []byte) error {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: wazero compile check failed: %v\n", err)
		return nil
	}
	_ = compiled.Close(ctx)
	return nil
}
