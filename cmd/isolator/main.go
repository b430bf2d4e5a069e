package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/isolator"
	"github.com/wippyai/isolator/config"
)

type argList []string

func (a *argList) String() string     { return strings.Join(*a, ",") }
func (a *argList) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	var (
		configFile  = flag.String("config", "", "Path to isolator.toml")
		dir         = flag.String("dir", "", "Assembly directory (added to the configured ones)")
		assembly    = flag.String("asm", "", "Assembly to load")
		typeName    = flag.String("type", "", "Type to call, Namespace.Name")
		method      = flag.String("method", "", "Method to call")
		handle      = flag.Bool("handle", false, "Keep the result in the guest and describe it")
		wait        = flag.Duration("wait", 5*time.Second, "How long to run pending callbacks after the call")
		list        = flag.Bool("list", false, "List the assembly's types and methods and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		args        argList
	)
	flag.Var(&args, "arg", "Argument, converted to the parameter type (repeatable)")
	flag.Parse()

	if *assembly == "" {
		fmt.Fprintln(os.Stderr, "Usage: isolator -asm <name> -type <Namespace.Name> -method <name> [-arg v ...] [-config file] [-dir path]")
		fmt.Fprintln(os.Stderr, "       isolator -asm <name> -list")
		fmt.Fprintln(os.Stderr, "       isolator -asm <name> -i  (interactive mode)")
		os.Exit(1)
	}

	b, err := newBridge(*configFile, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	if *interactive {
		if err := runInteractive(b, *assembly); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(b, *assembly, *typeName, *method, args, *handle, *list, *wait); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		b.Close()
		os.Exit(1)
	}
}

func newBridge(configFile, dir string) (*isolator.Bridge, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	} else {
		cfg.ApplyEnv(os.LookupEnv)
	}
	if dir != "" {
		cfg.Assemblies.Dirs = append(cfg.Assemblies.Dirs, dir)
	}

	log, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	return isolator.New(
		isolator.WithConfig(cfg),
		isolator.WithLogger(log),
		isolator.WithHostHandler(func(payload []byte) ([]byte, error) {
			log.Info("call_host", zap.ByteString("payload", payload))
			return payload, nil
		}),
	)
}

func run(b *isolator.Bridge, assembly, typeName, method string, values []string, handle, listOnly bool, wait time.Duration) error {
	types, err := describe(b, assembly)
	if err != nil {
		return fmt.Errorf("load %s: %w", assembly, err)
	}

	fmt.Printf("Assembly: %s\n", assembly)
	fmt.Printf("Types: %d\n", len(types))
	if listOnly || method == "" {
		for _, t := range types {
			fmt.Printf("\n%s\n", t.fullName())
			for _, m := range t.methods {
				fmt.Printf("  %s\n", m.signature())
			}
		}
		if method == "" && !listOnly {
			fmt.Printf("\nUse -type and -method to call a method.\n")
		}
		return nil
	}

	t, m, err := findMethod(types, typeName, method, len(values))
	if err != nil {
		return err
	}
	callArgs, err := convertArgs(values, m)
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s.%s(%s)...\n", t.fullName(), m.name, strings.Join(values, ", "))
	result, err := call(b, assembly, t, m, callArgs, handle)
	if err != nil {
		return fmt.Errorf("call %s: %w", m.name, err)
	}
	fmt.Printf("Result: %s\n", result)

	if b.Scheduler().Pending() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		if err := b.Run(ctx); err != nil {
			return fmt.Errorf("callbacks: %w", err)
		}
	}
	return nil
}
