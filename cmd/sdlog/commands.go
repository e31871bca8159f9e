package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-sdlog/protocol"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Initialize the card and print its identity, capacity and cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			d := s.driver
			cid := d.CID()
			major, minor := cid.Revision()
			year, month := cid.ManufactureDate()
			read, write := d.Cursors()
			rec := d.Recovery()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Card:\n")
			fmt.Fprintf(out, "  Version:       %s\n", d.Version())
			fmt.Fprintf(out, "  High capacity: %t\n", d.HighCapacity())
			fmt.Fprintf(out, "  Pages:         %d (%d MiB)\n", d.TotalPages(), uint64(d.TotalPages())*protocol.PageSize>>20)
			fmt.Fprintf(out, "  CSD structure: %d\n", d.CSD().Structure())
			fmt.Fprintf(out, "Identity:\n")
			fmt.Fprintf(out, "  Manufacturer:  0x%02X\n", cid.ManufacturerID())
			fmt.Fprintf(out, "  OEM:           %s\n", cid.OEMID())
			fmt.Fprintf(out, "  Product:       %s rev %d.%d\n", cid.ProductName(), major, minor)
			fmt.Fprintf(out, "  Serial:        0x%08X\n", cid.SerialNumber())
			fmt.Fprintf(out, "  Manufactured:  %04d-%02d\n", year, month)
			fmt.Fprintf(out, "Log:\n")
			fmt.Fprintf(out, "  Read page:     %d\n", read)
			fmt.Fprintf(out, "  Write page:    %d\n", write)
			fmt.Fprintf(out, "  Backlog:       %d pages\n", d.Backlog())
			fmt.Fprintf(out, "  Record:        %s\n", recoveryString(rec.CardChanged, rec.Err()))
			return nil
		},
	}
}

func recoveryString(changed bool, err error) string {
	switch {
	case changed:
		return "new card, cursors reset"
	case err != nil:
		return "damaged, cursors restarted"
	default:
		return "ok"
	}
}

func newWriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write [file|-]",
		Short: "Append a file (or stdin) to the log and flush it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			d := s.driver
			_, before := d.Cursors()
			n, err := io.Copy(d, src)
			if err != nil {
				return fmt.Errorf("write after %d bytes: %w", n, err)
			}
			if err := d.Flush(); err != nil {
				return err
			}
			if err := d.LastTransfer().Err(); err != nil {
				return fmt.Errorf("last page: %w", err)
			}

			_, after := d.Cursors()
			a.logger.Info("log written", "bytes", n, "from_page", before, "to_page", after)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes, write page %d -> %d\n", n, before, after)
			return nil
		},
	}
}

func newReadCmd(a *app) *cobra.Command {
	var pages uint32

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Stream pages from the read cursor to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			d := s.driver
			n := pages
			if n == 0 {
				n = d.Backlog()
			}
			if n == 0 {
				a.logger.Info("nothing to read")
				return nil
			}

			copied, err := io.CopyN(cmd.OutOrStdout(), d, int64(n)*protocol.PageSize)
			if err != nil {
				return fmt.Errorf("read after %d bytes: %w", copied, err)
			}
			if err := d.LastTransfer().Err(); err != nil {
				a.logger.Error("last page failed", "page", d.LastTransfer().Page, "error", err)
			}
			a.logger.Info("log read", "pages", n, "backlog", d.Backlog())
			return nil
		},
	}

	cmd.Flags().Uint32Var(&pages, "pages", 0, "pages to read (0 reads the backlog)")
	return cmd
}

func newEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "erase",
		Short: "Discard all unread pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			discarded := s.driver.Backlog()
			if err := s.driver.Erase(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded %d pages\n", discarded)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the card status register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.driver.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: 0x%04X\n", st)
			if st != 0 {
				return fmt.Errorf("card reports status 0x%04X", st)
			}
			return nil
		},
	}
}
