package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"titipanq-admin/internal/export"
	"titipanq-admin/internal/label"
	"titipanq-admin/internal/qrscan"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <image>",
		Short: "Read a tracking code from a QR code photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			code := qrscan.DecodeFile(data)
			if code == "" {
				return errors.New("no QR code found in image")
			}
			fmt.Fprintln(c.out, code)
			return nil
		},
	}
}

func (c *cli) labelCmd() *cobra.Command {
	var (
		out           string
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "label [tracking-code]",
		Short: "Render a Code128 label PNG for a tracking code (generated when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := label.TrackingCode(time.Now())
			if len(args) == 1 {
				code = args[0]
			}
			png, err := label.TrackingCodePNG(code, width, height)
			if err != nil {
				return err
			}
			if out == "" {
				out = label.FileName(code)
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s -> %s\n", code, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default barcode_<code>.png)")
	cmd.Flags().IntVar(&width, "width", label.DefaultWidth, "label width in pixels")
	cmd.Flags().IntVar(&height, "height", label.DefaultHeight, "label height in pixels")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export packages or a package history to Excel",
	}

	var pkgOut string
	packages := &cobra.Command{
		Use:   "packages",
		Short: "Export every package to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := c.app.loadPackages(cmd.Context())
			if err != nil {
				return err
			}
			data, err := export.PackagesXLSX(pkgs)
			if err != nil {
				return err
			}
			return c.writeExport(cmd, pkgOut, data, len(pkgs))
		},
	}
	packages.Flags().StringVarP(&pkgOut, "out", "o", "packages.xlsx", "output file")

	var historyOut string
	history := &cobra.Command{
		Use:   "history <package-id>",
		Short: "Export the status history of one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := c.app.client.GetPackage(ctx, args[0])
			if err != nil {
				return err
			}
			entries, err := c.app.packageHistory(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := export.HistoryXLSX(p, entries)
			if err != nil {
				return err
			}
			out := historyOut
			if out == "" {
				out = "history_" + p.TrackingCode + ".xlsx"
			}
			return c.writeExport(cmd, out, data, len(entries))
		},
	}
	history.Flags().StringVarP(&historyOut, "out", "o", "", "output file (default history_<tracking-code>.xlsx)")

	cmd.AddCommand(packages, history)
	return cmd
}

func (c *cli) writeExport(cmd *cobra.Command, path string, data []byte, rows int) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.app.logger.Info("Export written", append(logFields(cmd), zap.String("file", path), zap.Int("rows", rows))...)
	fmt.Fprintf(c.out, "%d row(s) -> %s\n", rows, path)
	return nil
}
