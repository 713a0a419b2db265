package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudfoundry/bytefmt"
	"github.com/sirupsen/logrus"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vorteil/vexport/pkg/elog"
	"github.com/vorteil/vexport/pkg/export"
	"github.com/vorteil/vexport/pkg/ovf"
	"github.com/vorteil/vexport/pkg/pipeline"
)

var log elog.View

// Each command executed may have an error message and status code.
var errorStatusCode int
var errorStatusMessage error

// SetError sets the global variables for when the process exits to display accordingly
func SetError(err error, code int) {
	errorStatusCode = code
	errorStatusMessage = err
}

var (
	flagVerbose     bool
	flagDebug       bool
	flagOutput      string
	flagForce       bool
	flagCompression string
	flagChunkSize   string
	flagThreads     int
)

func commandInit() {

	// setup logging across all commands
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}

		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		return nil
	}

	addExportFlags(exportCmd.Flags())

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(versionCmd)

}

func addExportFlags(f *pflag.FlagSet) {
	f.StringVarP(&flagOutput, "output", "o", "", "path for the generated OVA")
	f.BoolVarP(&flagForce, "force", "f", false, "overwrite an existing output file")
	f.StringVarP(&flagCompression, "compression", "c", "balanced", "compression level (fast, balanced, max)")
	f.StringVar(&flagChunkSize, "chunk-size", "64M", "pipeline chunk size")
	f.IntVarP(&flagThreads, "threads", "t", 0, "worker threads (0 = all CPUs)")
}

var rootCmd = &cobra.Command{
	Use:   "vexport",
	Short: "Convert VMware virtual machines into portable OVA appliances",
	Long: `vexport converts a VMware virtual machine, described by its VMX configuration
file and virtual disk images, into a single OVA archive. Disks are rewritten
into the streamOptimized VMDK format with compressed grains, so the result
imports cleanly into VMware, VirtualBox, and any other OVF 1.0 consumer.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "View CLI version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\nCommit: %s\nDate: %s\n", release, commit, date)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export VMX",
	Short: "Export a VMware VM to an OVA archive",
	Long: `Export converts the virtual machine described by VMX into an OVA archive.

Every attached virtual disk is read (monolithic flat, monolithic sparse, and
split sparse disks are supported), recompressed in parallel into the
streamOptimized VMDK format, and packed into a tar archive together with a
generated OVF descriptor and a SHA256 manifest.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		vmxPath := args[0]

		opts := export.DefaultOptions()
		opts.Logger = log
		opts.Threads = flagThreads

		level, err := pipeline.ParseCompressionLevel(flagCompression)
		if err != nil {
			SetError(err, 1)
			return
		}
		opts.Compression = level

		if flagChunkSize != "" {
			size, err := bytefmt.ToBytes(flagChunkSize)
			if err != nil {
				SetError(fmt.Errorf("invalid chunk size '%s': %v", flagChunkSize, err), 1)
				return
			}
			opts.ChunkSize = int64(size)
		}

		outputPath := flagOutput
		if outputPath == "" {
			info, err := export.GetVMInfo(vmxPath)
			if err != nil {
				SetError(err, 2)
				return
			}
			base := ovf.SanitizeID(info.Name)
			outputPath = filepath.Join(filepath.Dir(vmxPath), base+".ova")
		}

		if !flagForce {
			if _, err := os.Stat(outputPath); err == nil {
				SetError(fmt.Errorf("output file '%s' already exists (use -f to overwrite)", outputPath), 2)
				return
			}
		}

		var bar elog.Progress
		progressFn := func(p export.Progress) {
			switch p.Phase {
			case export.PhaseCompressing:
				if bar == nil && p.BytesTotal > 0 {
					bar = log.NewProgress("Compressing disks", "KiB", p.BytesTotal)
				}
			case export.PhaseComplete:
				if bar != nil {
					bar.Finish(true)
					bar = nil
				}
			}
			if bar != nil {
				_, _ = bar.Seek(p.BytesProcessed, 0)
			}
		}

		err = export.Export(vmxPath, outputPath, opts, progressFn)
		if bar != nil {
			bar.Finish(err == nil)
		}
		if err != nil {
			SetError(err, 3)
			return
		}

	},
}

var infoCmd = &cobra.Command{
	Use:   "info VMX",
	Short: "Summarize a VMware VM without exporting it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {

		info, err := export.GetVMInfo(args[0])
		if err != nil {
			SetError(err, 1)
			return
		}

		fmt.Printf("Name:     %s\n", info.Name)
		fmt.Printf("Guest OS: %s\n", info.GuestOS)
		fmt.Printf("Memory:   %d MiB\n", info.MemoryMiB)
		fmt.Printf("vCPUs:    %d\n", info.NumCPUs)
		fmt.Printf("Disks:    %d (%s total)\n", len(info.Disks),
			bytefmt.ByteSize(uint64(info.TotalDiskSize)))

		if len(info.Disks) == 0 {
			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeader([]string{"Disk", "Type", "Size"})
		for _, disk := range info.Disks {
			table.Append([]string{
				disk.FileName,
				disk.CreateType,
				bytefmt.ByteSize(uint64(disk.SizeBytes)),
			})
		}
		table.Render()

	},
}
