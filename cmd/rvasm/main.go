// Command rvasm assembles RV32/64-I+M assembly source into a raw
// little-endian binary image, the direct descendant of the teacher's
// cmd/asm (spec.md §4.1).
package main

import (
	"encoding/binary"
	"log"
	"os"

	"github.com/bassosimone/rvsim/pkg/isa"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var output string
	root := &cobra.Command{
		Use:   "rvasm <source>",
		Short: "Assemble RV32/64-I+M source into a raw binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			assembled, err := isa.Assemble(string(src))
			if err != nil {
				return err
			}
			buf := make([]byte, len(assembled)*4)
			for i, a := range assembled {
				binary.LittleEndian.PutUint32(buf[i*4:], uint32(a.Word))
			}
			if output == "" {
				_, err := os.Stdout.Write(buf)
				return err
			}
			return os.WriteFile(output, buf, 0o644)
		},
	}
	root.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return root
}
