package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/qrpayload"
	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

var rutCmd = &cobra.Command{
	Use:   "rut",
	Short: "Validate and format RUTs",
}

var rutValidateCmd = &cobra.Command{
	Use:   "validate <rut...>",
	Short: "Check the modulo-11 check digit of RUTs",
	Long: `Check the modulo-11 check digit of each RUT. Exits with an error when any
RUT is invalid.

Examples:
  rh360-attendance rut validate 12.345.678-5 10000013k`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRUTValidate,
}

var rutFormatCmd = &cobra.Command{
	Use:   "format <rut...>",
	Short: "Print RUTs in canonical and dotted form",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRUTFormat,
}

var rutExtractCmd = &cobra.Command{
	Use:   "extract <qr-payload>",
	Short: "Extract the RUT encoded in a QR payload",
	Long: `Run the QR extraction strategies against a payload, as the QR attendance
endpoint does.

Examples:
  rh360-attendance rut extract 'https://portal.sidiv.registrocivil.cl/docstatus?RUN=12345678-5&type=CEDULA'`,
	Args: cobra.ExactArgs(1),
	RunE: runRUTExtract,
}

func init() {
	rootCmd.AddCommand(rutCmd)
	rutCmd.AddCommand(rutValidateCmd, rutFormatCmd, rutExtractCmd)
}

func runRUTValidate(cmd *cobra.Command, args []string) error {
	invalid := 0
	for _, arg := range args {
		if rut.Validate(arg) {
			fmt.Printf("%-16s valid\n", arg)
			continue
		}
		invalid++
		clean := rut.Clean(arg)
		if len(clean) >= 2 {
			if expected, err := rut.CheckDigit(clean[:len(clean)-1]); err == nil {
				fmt.Printf("%-16s invalid (check digit should be %s)\n", arg, expected)
				continue
			}
		}
		fmt.Printf("%-16s invalid\n", arg)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d RUTs are invalid", invalid, len(args))
	}
	return nil
}

func runRUTFormat(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		fmt.Printf("%-16s %-12s %s\n", arg, rut.Canonicalize(arg), rut.Format(arg))
	}
	return nil
}

func runRUTExtract(cmd *cobra.Command, args []string) error {
	res, err := qrpayload.Extract(args[0])
	if err != nil {
		return fmt.Errorf("failed to extract RUT: %w", err)
	}
	status := "valid"
	if !res.Valid {
		status = "invalid check digit"
	}
	fmt.Printf("%s (%s, strategy %s)\n", rut.Format(res.RUT), status, res.Strategy)
	return nil
}
