package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/katsuo/javm/pkg/vm"
)

var (
	flagClassPath string
	flagJmod      string
	flagTrace     bool
)

var rootCmd = &cobra.Command{
	Use:   "javm",
	Short: "javm is a Java bytecode interpreter",
	Long:  `javm interprets Java class files (Java 8 and below) on a bytecode interpreter written in Go.`,
}

var runCmd = &cobra.Command{
	Use:   "run [flags] <classfile or class name>",
	Short: "run the main method of a class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]

		classPath := flagClassPath
		className := target
		if strings.HasSuffix(target, ".class") {
			if classPath == "" {
				classPath = filepath.Dir(target)
			}
			className = strings.TrimSuffix(filepath.Base(target), ".class")
		}
		if classPath == "" {
			classPath = "."
		}

		jmodPath := flagJmod
		if jmodPath == "" {
			jmodPath = vm.FindJmodPath()
		}

		var parent vm.ClassLoader
		if jmodPath != "" {
			parent = vm.NewJmodClassLoader(jmodPath)
		}
		loader := vm.NewUserClassLoader(classPath, parent)

		machine := vm.NewVM(loader)
		level := zerolog.WarnLevel
		if flagTrace {
			level = zerolog.TraceLevel
		}
		machine.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

		if jmodPath != "" {
			if err := machine.BootstrapMirrors(); err != nil {
				machine.Logger.Warn().Err(err).Msg("mirror bootstrap failed, continuing without runtime library")
			}
		}

		return machine.Execute(className)
	},
}

func init() {
	runCmd.Flags().StringVar(&flagClassPath, "classpath", "", "directory to load user classes from")
	runCmd.Flags().StringVar(&flagJmod, "jmod", "", "path to java.base.jmod (default: JAVA_BASE_JMOD, then JAVA_HOME)")
	runCmd.Flags().BoolVar(&flagTrace, "trace", false, "enable trace logging of class loading and dispatch")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
