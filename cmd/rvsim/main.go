// Command rvsim drives the RISC-V simulation core: run a binary image
// to completion or single-step through it with tracing (both sharing
// one pkg/config flag surface, spec.md §4.10), or disassemble it.
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/bassosimone/rvsim/pkg/config"
	"github.com/bassosimone/rvsim/pkg/except"
	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/bassosimone/rvsim/pkg/machine"
	"github.com/bassosimone/rvsim/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rvsim",
		Short: "RISC-V cycle-accurate simulator",
	}

	cfg := config.Default()
	var resetPC uint32
	var maxSteps uint64
	var verbose bool

	run := &cobra.Command{
		Use:   "run <image>",
		Short: "Run a raw RV32IM binary image to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, err := machine.New(cfg, image, types.NewAddress(uint64(resetPC)), os.Stdout, os.Stdin)
			if err != nil {
				return err
			}
			if verbose {
				m.SetLogger(logrus.StandardLogger())
				logrus.SetLevel(logrus.TraceLevel)
			}
			if err := m.Play(maxSteps); err != nil && !isHaltedErr(err) {
				return err
			}
			fmt.Fprintf(os.Stdout, "retired %d instructions, final pc %#x\n", m.Retired(), m.PC().Raw())
			return nil
		},
	}
	cfg.BindFlags(run.Flags())
	run.Flags().Uint32Var(&resetPC, "reset-pc", 0, "address fetch begins at")
	run.Flags().Uint64Var(&maxSteps, "max-steps", 0, "stop after this many steps (0 = unbounded)")
	run.Flags().BoolVarP(&verbose, "verbose", "v", false, "trace every retired instruction")

	var stepBreakAt uint32
	step := &cobra.Command{
		Use:   "step <image>",
		Short: "Single-step a binary image, printing each retired instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, err := machine.New(cfg, image, types.NewAddress(uint64(resetPC)), os.Stdout, os.Stdin)
			if err != nil {
				return err
			}
			if stepBreakAt != 0 {
				m.SetBreakpoint(types.NewAddress(uint64(stepBreakAt)), true)
			}
			for maxSteps == 0 || m.Retired() < maxSteps {
				pc := m.PC()
				if err := m.Step(); err != nil {
					if isHaltedErr(err) {
						break
					}
					return err
				}
				fmt.Fprintf(os.Stdout, "pc=%#010x retired=%d status=%s\n", pc.Raw(), m.Retired(), m.Status())
			}
			return nil
		},
	}
	cfg.BindFlags(step.Flags())
	step.Flags().Uint32Var(&resetPC, "reset-pc", 0, "address fetch begins at")
	step.Flags().Uint64Var(&maxSteps, "max-steps", 0, "stop after this many instructions (0 = unbounded)")
	step.Flags().Uint32Var(&stepBreakAt, "break-at", 0, "arm a hardware breakpoint at this address (0 = none)")

	var disasmPC uint32
	var disasmABI bool
	disasm := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Disassemble a raw RV32IM binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pc := types.NewAddress(uint64(disasmPC))
			for off := 0; off+4 <= len(image); off += 4 {
				word := isa.Word(binary.LittleEndian.Uint32(image[off:]))
				text, err := isa.Disassemble(word, pc, disasmABI)
				if err != nil {
					text = fmt.Sprintf("<illegal: %v>", err)
				}
				fmt.Fprintf(os.Stdout, "%#010x: %08x  %s\n", pc.Raw(), uint32(word), text)
				pc = pc.Add(4)
			}
			return nil
		},
	}
	disasm.Flags().Uint32Var(&disasmPC, "base", 0, "address the first word in the image is loaded at")
	disasm.Flags().BoolVar(&disasmABI, "abi", true, "render register operands with ABI names")

	root.AddCommand(run, step, disasm)
	return root
}

func isHaltedErr(err error) bool {
	return errors.Is(err, except.ErrHalted)
}
