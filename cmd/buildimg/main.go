// Command buildimg writes an SD card image for the SoC BIOS: the given
// payloads on a FAT32 partition plus a boot.json with their load addresses
// inside main_ram.
//
//	buildimg --design build/mnt_rkx7/gateware/mnt_rkx7.json -o sdcard.img Image rv32.dtb@0xef0000 opensbi.bin@0xf00000
package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/appkins-org/go-socbuild/internal/config"
	"github.com/appkins-org/go-socbuild/internal/image"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var design, output, logLevel string
	cmd := &cobra.Command{
		Use:          "buildimg [flags] FILE[@OFFSET]...",
		Short:        "Build an SD card boot image for a composed SoC",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger(cmd.ErrOrStderr(), logLevel, "text")

			f, err := os.Open(design)
			if err != nil {
				return err
			}
			mainRAM, err := image.MainRAM(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", design, err)
			}

			files := make([]image.File, 0, len(args))
			for _, arg := range args {
				file, err := payload(arg)
				if err != nil {
					return err
				}
				files = append(files, file)
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists", output)
			}

			manifest, err := image.Build(log, output, mainRAM, files)
			if err != nil {
				os.Remove(output)
				return err
			}
			for _, name := range slices.Sorted(maps.Keys(manifest)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", manifest[name], name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&design, "design", "", "design record written by socbuild (gateware/<name>.json)")
	cmd.Flags().StringVarP(&output, "output", "o", "sdcard.img", "image file to create")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: info or debug")
	_ = cmd.MarkFlagRequired("design")
	return cmd
}

// payload reads FILE[@OFFSET]; OFFSET is relative to the start of main_ram.
func payload(arg string) (image.File, error) {
	name, off, hasOff := strings.Cut(arg, "@")
	data, err := os.ReadFile(name)
	if err != nil {
		return image.File{}, err
	}
	file := image.File{Name: filepath.Base(name), Data: data}
	if hasOff {
		v, err := strconv.ParseUint(off, 0, 64)
		if err != nil {
			return image.File{}, fmt.Errorf("offset of %s: %w", name, err)
		}
		file.Offset = &v
	}
	return file, nil
}
