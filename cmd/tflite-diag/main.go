// tflite-diag drives a TensorFlow Lite model through the diagnostic harness
// and reports whether its outputs behave: distinct inputs produce distinct
// outputs, identical inputs reproduce identical outputs, and a state reset
// restores a fresh output distribution.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/amikos-tech/pure-tflite/diag"
	"github.com/amikos-tech/pure-tflite/tflite"
	"github.com/amikos-tech/pure-tflite/tfliteengine"
)

type diagFlags struct {
	modelPath  string
	libPath    string
	outputName string
	numThreads int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &diagFlags{}

	cmd := &cobra.Command{
		Use:          "tflite-diag",
		Short:        "Diagnose a TensorFlow Lite model's output behavior",
		Long:         "tflite-diag loads a .tflite model through the TensorFlow Lite C API and checks that distinct inputs produce distinct outputs, identical inputs reproduce identical outputs, and a state reset restores a fresh output distribution.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(flags)
		},
	}

	cmd.Flags().StringVar(&flags.modelPath, "model", "", "path to the .tflite model file (required)")
	cmd.Flags().StringVar(&flags.libPath, "lib", "", "path to the TensorFlow Lite C shared library (default: bootstrap resolution)")
	cmd.Flags().StringVar(&flags.outputName, "output-name", "", "pin selection to the output tensor with this name instead of probing")
	cmd.Flags().IntVar(&flags.numThreads, "threads", 0, "interpreter CPU threads (default: runtime default)")
	_ = cmd.MarkFlagRequired("model")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.Flags().AddGoFlagSet(klogFlags)

	return cmd
}

func runDiagnose(flags *diagFlags) error {
	bootstrapOpts := []tflite.BootstrapOption{}
	if flags.libPath != "" {
		bootstrapOpts = append(bootstrapOpts, tflite.WithBootstrapLibraryPath(flags.libPath))
	}
	if err := tflite.InitializeWithBootstrap(bootstrapOpts...); err != nil {
		return err
	}
	defer func() {
		if err := tflite.Shutdown(); err != nil {
			klog.Warningf("failed to shut down TensorFlow Lite runtime: %v", err)
		}
	}()
	klog.V(1).Infof("TensorFlow Lite version %s", tflite.Version())

	engineOpts := []tfliteengine.Option{}
	if flags.numThreads > 0 {
		engineOpts = append(engineOpts, tfliteengine.WithNumThreads(flags.numThreads))
	}
	engine, err := tfliteengine.New(engineOpts...)
	if err != nil {
		return err
	}

	sessionOpts := []diag.Option{}
	if flags.outputName != "" {
		sessionOpts = append(sessionOpts, diag.WithOutputName(flags.outputName))
	}
	session, err := diag.NewSession(engine, flags.modelPath, sessionOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Dispose(); err != nil {
			klog.Warningf("failed to dispose session: %v", err)
		}
	}()

	if err := session.EnsureReady(); err != nil {
		return err
	}
	selected, err := session.SelectOutputOnce()
	if err != nil {
		return err
	}
	descriptors, err := session.OutputDescriptors()
	if err != nil {
		return err
	}
	fmt.Printf("model: %s\n", flags.modelPath)
	fmt.Printf("selected output: %s\n", descriptors[selected])

	results, err := diag.RunAllChecks(session)
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s  %s (%s)\n", status, result.Name, result.Detail)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	fmt.Printf("all %d checks passed\n", len(results))
	return nil
}
